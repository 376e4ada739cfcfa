package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"CreatorScanner/internal/app"
	"CreatorScanner/internal/config"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies pending schema migrations to the configured database.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == config.DriverMemory {
			return fmt.Errorf("driver %s has no schema", cfg.Database.Driver)
		}

		store, err := app.OpenStore(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		return store.Close()
	},
}
