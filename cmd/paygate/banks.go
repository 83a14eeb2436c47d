package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"paygate/internal/bankcode"
	"paygate/internal/common/database"
)

func banksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "banks",
		Short: "Manage the bank code table",
	}

	var file string
	importCmd := &cobra.Command{
		Use:     "import",
		Short:   "Load canonical bank codes and provider mappings from a YAML file",
		Example: `  paygate banks import --file configs/banks.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg StoreConfig
			if err := loadConfig(&cfg); err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			banks, err := bankcode.LoadFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			db, err := database.New(ctx, cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer db.Close()

			if err := bankcode.NewPostgresStore(db).Import(ctx, banks); err != nil {
				return err
			}

			logger.Info("bank codes imported", "file", file, "banks", len(banks))
			return nil
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "configs/banks.yaml", "bank table YAML file")
	cmd.AddCommand(importCmd)

	return cmd
}
