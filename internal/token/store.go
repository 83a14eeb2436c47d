package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"

	"paygate/internal/common/database"
)

// PostgresStore reads and issues tokens in the api_tokens table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a token store backed by db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Resolve returns the active token whose hash matches raw.
func (r *PostgresStore) Resolve(ctx context.Context, raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	query := `
		SELECT id, name, is_active, payment_sys, deposit_enabled, withdraw_enabled,
		       api_key, secret_key
		FROM api_tokens
		WHERE token_hash = $1
	`

	var t Token
	err := r.db.QueryRow(ctx, query, Hash(raw)).Scan(
		&t.ID, &t.Name, &t.IsActive, &t.PaymentSys, &t.DepositEnabled, &t.WithdrawEnabled,
		&t.Credentials.APIKey, &t.Credentials.SecretKey,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("resolving api token: %w", err)
	}

	if !t.IsActive {
		return nil, ErrInvalidToken
	}
	return &t, nil
}

// Create issues a new token and returns its raw value. Only the hash is stored.
func (r *PostgresStore) Create(ctx context.Context, t *Token) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	raw := hex.EncodeToString(buf)

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	t.IsActive = true

	query := `
		INSERT INTO api_tokens (id, name, token_hash, is_active, payment_sys,
		                        deposit_enabled, withdraw_enabled, api_key, secret_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.Name, Hash(raw), t.IsActive, t.PaymentSys,
		t.DepositEnabled, t.WithdrawEnabled, t.Credentials.APIKey, t.Credentials.SecretKey,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return "", database.ErrAlreadyExists
		}
		return "", fmt.Errorf("creating api token: %w", err)
	}
	return raw, nil
}
