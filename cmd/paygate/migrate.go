package main

import (
	"github.com/spf13/cobra"

	"paygate/internal/common/database"
)

// StoreConfig holds configuration for commands that only need the database
type StoreConfig struct {
	LogConfig
	Database database.Config
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg StoreConfig
			if err := loadConfig(&cfg); err != nil {
				return err
			}
			return database.Migrate(cfg.Database.URL, setupLogger(cfg.LogLevel, cfg.LogFormat))
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg StoreConfig
			if err := loadConfig(&cfg); err != nil {
				return err
			}
			return database.MigrateDown(cfg.Database.URL, steps, setupLogger(cfg.LogLevel, cfg.LogFormat))
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}
