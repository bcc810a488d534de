package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/app"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
)

type recordView struct {
	models.DeliveryRecord `yaml:",inline"`
	Verified              bool `json:"verified" yaml:"verified"`
}

var recordsCmd = &cobra.Command{
	Use:     "records",
	Aliases: []string{"rec"},
	Short:   "Inspect delivery records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent delivery records",
	Long:  "List records from the configured record store, or the local fallback file when no remote store is configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, local, err := app.BuildSink(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer local.Close()

		records, err := s.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		views := make([]recordView, 0, len(records))
		for _, rec := range records {
			views = append(views, recordView{DeliveryRecord: rec, Verified: s.Verify(rec)})
		}

		return render(cmd, views, func(p *output.Printer) {
			if len(views) == 0 {
				p.Info("No delivery records")
				return
			}
			table := output.NewTable("PURCHASE ID", "SOURCE", "WALLET", "AMOUNT", "KIND", "DELIVERED", "VERIFIED")
			for _, v := range views {
				table.AddRow(v.PurchaseID, short(v.SourceSignature), short(v.Wallet), v.AmountDelivered.String(),
					string(v.SequenceKind), v.DeliveredAt.Format("2006-01-02 15:04:05"), fmt.Sprint(v.Verified))
			}
			p.Table(table)
		})
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <signature>",
	Short: "Show the record for a payment signature or purchase id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, local, err := app.BuildSink(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer local.Close()

		rec, err := s.FindBySource(cmd.Context(), args[0])
		if errors.Is(err, sink.ErrNotFound) {
			return fmt.Errorf("no delivery record for %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to look up record: %w", err)
		}

		view := recordView{DeliveryRecord: *rec, Verified: s.Verify(*rec)}
		return render(cmd, view, func(p *output.Printer) {
			p.Info("Purchase ID:  %s", rec.PurchaseID)
			p.Info("Source:       %s (%s)", rec.SourceSignature, rec.Source)
			p.Info("Wallet:       %s", rec.Wallet)
			p.Info("Amount:       %s VRE", rec.AmountDelivered)
			p.Info("New balance:  %s VRE", rec.NewBalance)
			p.Info("Transfer:     %s", rec.TransferSignature)
			p.Info("Sequence:     %s", rec.SequenceKind)
			p.Info("Delivered at: %s", rec.DeliveredAt.Format("2006-01-02 15:04:05 MST"))
			if view.Verified {
				p.Success("Integrity verified")
			} else {
				p.Error("Integrity check failed")
			}
		})
	},
}

// short abbreviates base58 signatures and addresses for table output.
func short(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:6] + "..." + s[len(s)-6:]
}

func init() {
	recordsListCmd.Flags().Int("limit", 20, "maximum records to list")
	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}
