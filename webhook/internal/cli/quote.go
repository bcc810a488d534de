package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/app"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/oracle"
)

type quoteView struct {
	oracle.Quote `yaml:",inline"`
	UnitPriceUSD decimal.Decimal  `json:"unit_price_usd" yaml:"unit_price_usd"`
	Native       *decimal.Decimal `json:"native,omitempty" yaml:"native,omitempty"`
	AmountOwed   *decimal.Decimal `json:"amount_owed,omitempty" yaml:"amount_owed,omitempty"`
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Show the current native/USD rate and tokens owed",
	Example: `  vrectl quote
  vrectl quote --native 1.5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := app.BuildOracle(cfg, logger).GetRate(cmd.Context())
		view := quoteView{Quote: q, UnitPriceUSD: cfg.UnitPrice()}

		if raw, _ := cmd.Flags().GetString("native"); raw != "" {
			native, err := decimal.NewFromString(raw)
			if err != nil || !native.IsPositive() {
				return fmt.Errorf("invalid --native amount %q", raw)
			}
			owed := oracle.AmountOwed(native, q.Rate, cfg.UnitPrice())
			view.Native, view.AmountOwed = &native, &owed
		}

		return render(cmd, view, func(p *output.Printer) {
			if q.Degraded {
				p.Warn("live price unavailable, using fallback rate")
			}
			p.Info("Rate:       %s USD (%s, %s)", q.Rate, q.Source, q.FetchedAt.Format(time.RFC3339))
			p.Info("Unit price: %s USD", view.UnitPriceUSD)
			if view.AmountOwed != nil {
				p.Success("%s native buys %s VRE", view.Native, view.AmountOwed)
			}
		})
	},
}

func init() {
	quoteCmd.Flags().String("native", "", "native amount to convert")
	rootCmd.AddCommand(quoteCmd)
}
