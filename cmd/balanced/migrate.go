package main

import (
	"fmt"
	"log/slog"

	"github.com/aevon-lab/balance-stream/internal/core/storage/postgres"
	"github.com/aevon-lab/balance-stream/internal/migrations"
	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if migrateDown {
			return migrations.Down(db)
		}
		if err := migrations.RunMigrations(db, true); err != nil {
			return err
		}
		slog.Info("Migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Revert all migrations")
}
