package bankcode

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paygate/internal/common/database"
)

// PostgresStore reads the bank table from PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL bank store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBank retrieves a bank and all of its provider codes by canonical code.
func (s *PostgresStore) GetBank(ctx context.Context, code string) (*Bank, error) {
	query := `
		SELECT b.code, b.name, p.provider, p.provider_code
		FROM banks b
		LEFT JOIN bank_provider_codes p ON p.bank_code = b.code
		WHERE b.code = $1
	`

	rows, err := s.db.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("query bank: %w", err)
	}
	defer rows.Close()

	var bank *Bank
	for rows.Next() {
		var (
			bankCode, name         string
			provider, providerCode *string
		)
		if err := rows.Scan(&bankCode, &name, &provider, &providerCode); err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		if bank == nil {
			bank = &Bank{Code: bankCode, Name: name, ProviderCodes: map[string]string{}}
		}
		if provider != nil && providerCode != nil {
			bank.ProviderCodes[*provider] = *providerCode
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank rows: %w", err)
	}

	if bank == nil {
		return nil, database.ErrNotFound
	}
	return bank, nil
}

// FindByProviderCode retrieves the bank whose code in provider's dialect is providerCode.
func (s *PostgresStore) FindByProviderCode(ctx context.Context, provider, providerCode string) (*Bank, error) {
	query := `
		SELECT bank_code FROM bank_provider_codes
		WHERE provider = $1 AND provider_code = $2
	`

	var code string
	err := s.db.QueryRow(ctx, query, normalizeProvider(provider), providerCode).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("query provider bank code: %w", err)
	}

	return s.GetBank(ctx, code)
}

// Import upserts banks and replaces their provider code mappings.
func (s *PostgresStore) Import(ctx context.Context, banks []Bank) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, b := range banks {
			_, err := tx.Exec(ctx, `
				INSERT INTO banks (code, name) VALUES ($1, $2)
				ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
			`, b.Code, b.Name)
			if err != nil {
				return fmt.Errorf("upsert bank %s: %w", b.Code, err)
			}

			if _, err := tx.Exec(ctx, `DELETE FROM bank_provider_codes WHERE bank_code = $1`, b.Code); err != nil {
				return fmt.Errorf("clear provider codes for %s: %w", b.Code, err)
			}

			for provider, providerCode := range b.ProviderCodes {
				_, err := tx.Exec(ctx, `
					INSERT INTO bank_provider_codes (bank_code, provider, provider_code)
					VALUES ($1, $2, $3)
				`, b.Code, normalizeProvider(provider), providerCode)
				if err != nil {
					return fmt.Errorf("insert provider code %s/%s: %w", b.Code, provider, err)
				}
			}
		}
		return nil
	})
}
