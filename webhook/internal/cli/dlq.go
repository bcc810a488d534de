package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/app"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dlq"
)

var errDLQDisabled = errors.New("dead letter queue is disabled (dlq.enabled=false)")

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage deliveries that need operator repair",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued failed deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		q, closeFn, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		entries, err := q.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []dlq.FailedDelivery{}
		}
		return render(cmd, entries, func(p *output.Printer) {
			if len(entries) == 0 {
				p.Success("Dead letter queue is empty")
				return
			}
			table := output.NewTable("ID", "TIME", "REASON", "SOURCE", "WALLET", "AMOUNT", "TRANSFER", "ERROR")
			for _, e := range entries {
				d := e.Delivery
				if d == nil {
					d = &dlq.Delivery{}
				}
				table.AddRow(formatID(e.ID), e.Timestamp.Format("2006-01-02 15:04:05"), e.Reason,
					short(d.SourceSignature), short(d.Wallet), d.Amount, short(d.TransferSignature), e.Error)
			}
			p.Table(table)
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every queued entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to purge without --yes")
		}
		q, closeFn, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := q.Purge(cmd.Context()); err != nil {
			return err
		}
		printer(cmd).Success("Dead letter queue purged")
		return nil
	},
}

func openDLQ(cmd *cobra.Command) (dlq.Writer, func(), error) {
	q, closeFn, err := app.BuildDLQ(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if q == nil {
		return nil, nil, errDLQDisabled
	}
	return q, closeFn, nil
}

func formatID(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func init() {
	dlqListCmd.Flags().Int("limit", 50, "maximum entries to list")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
	dlqCmd.AddCommand(dlqListCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}
