package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/app"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

type accountView struct {
	Wallet              string `json:"wallet" yaml:"wallet"`
	models.AccountState `yaml:",inline"`
	Entry               models.EntryState `json:"entry" yaml:"entry"`
}

var accountCmd = &cobra.Command{
	Use:   "account <wallet>",
	Short: "Show a wallet's token account state",
	Long:  "Query the wallet's token account through the configured executors and show whether it exists, is frozen and its balance.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wallet := args[0]
		if err := executor.ValidateAddress(wallet); err != nil {
			return fmt.Errorf("invalid wallet address: %w", err)
		}

		execs, err := app.BuildExecutors(cfg, logger)
		if err != nil {
			return err
		}
		state, err := app.BuildDeliverer(cfg, execs, logger).Resolve(cmd.Context(), wallet)
		if err != nil {
			return fmt.Errorf("account query failed: %w", err)
		}

		view := accountView{Wallet: wallet, AccountState: state, Entry: state.Entry()}
		return render(cmd, view, func(p *output.Printer) {
			if !state.Exists {
				p.Warn("No token account for %s", wallet)
				return
			}
			table := output.NewTable("WALLET", "ACCOUNT", "FROZEN", "BALANCE", "ENTRY")
			table.AddRow(wallet, state.AccountAddress, fmt.Sprint(state.Frozen), state.Balance.String(), string(view.Entry))
			p.Table(table)
		})
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}
