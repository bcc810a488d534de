// Package cli implements vrectl, the operator CLI for the delivery service.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vrectl",
	Short: "VRE delivery service CLI",
	Long: `vrectl is the operator CLI for the VRE webhook delivery service.

Inspect token accounts, quote prices, trigger manual deliveries, wait for
a payment's delivery record, and manage the dead letter queue.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		level, _ := cmd.Flags().GetString("log-level")
		logger = logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(level), "text").Logger
		return nil
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.New(os.Stderr).Error("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/vre/webhook/config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("server", "http://localhost:3002", "delivery service base URL")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level for component logs on stderr")
}

func printer(cmd *cobra.Command) *output.Printer {
	return output.New(cmd.OutOrStdout())
}

// render prints v as JSON or YAML, or calls table for the default format.
func render(cmd *cobra.Command, v any, table func(*output.Printer)) error {
	format, _ := cmd.Flags().GetString("output")
	p := printer(cmd)
	switch format {
	case "json":
		return p.JSON(v)
	case "yaml":
		return p.YAML(v)
	case "table", "":
		table(p)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
