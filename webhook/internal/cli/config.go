package cli

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the merged defaults, config file and VRE_* environment as YAML. Secrets are omitted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := printer(cmd)
		if err := p.YAML(cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			p.Warn("configuration is not valid for the server: %v", err)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
