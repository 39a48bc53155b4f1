package cli

import (
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/iliyamo/storefront/internal/config"
	"github.com/iliyamo/storefront/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := database.Open(cmd.Context(), cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := database.Migrate(cmd.Context(), db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Infof("schema is up to date (db=%s)", cfg.DBName)
		return nil
	},
}
