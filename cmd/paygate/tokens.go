package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"paygate/internal/common/database"
	"paygate/internal/gateway"
	"paygate/internal/token"
)

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage client API tokens",
	}

	var (
		name     string
		provider string
		apiKey   string
		secret   string
		deposit  bool
		withdraw bool
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a client API token bound to one provider",
		Long: `Issue a client API token bound to one provider.

The raw token is printed once. Only its SHA-256 hash is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg StoreConfig
			if err := loadConfig(&cfg); err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			db, err := database.New(ctx, cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer db.Close()

			tok := &token.Token{
				Name:            name,
				PaymentSys:      provider,
				DepositEnabled:  deposit,
				WithdrawEnabled: withdraw,
				Credentials:     gateway.Credentials{APIKey: apiKey, SecretKey: secret},
			}
			raw, err := token.NewPostgresStore(db).Create(ctx, tok)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", tok.ID, raw)
			return nil
		},
	}

	create.Flags().StringVar(&name, "name", "", "token display name")
	create.Flags().StringVar(&provider, "provider", gateway.BibPay, "payment provider (bibpay, payonex)")
	create.Flags().StringVar(&apiKey, "api-key", "", "provider API or access key")
	create.Flags().StringVar(&secret, "secret-key", "", "provider secret key")
	create.Flags().BoolVar(&deposit, "deposit", true, "allow deposits")
	create.Flags().BoolVar(&withdraw, "withdraw", true, "allow withdraws")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)

	return cmd
}
