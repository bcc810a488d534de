package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dedup"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the dedup ledger schema migrations",
	Long:  "Run the PostgreSQL migrations for the dedup ledger. The server also runs them at startup when dedup.backend=postgres.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is not configured")
		}
		if err := dedup.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		printer(cmd).Success("Dedup ledger schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
