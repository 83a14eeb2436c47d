package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"paygate/internal/common/database"
	"paygate/internal/gateway"
)

// PostgresStore implements Store and gateway.CustomerStore.
type PostgresStore struct {
	db *database.DB
}

var (
	_ Store                 = (*PostgresStore)(nil)
	_ gateway.CustomerStore = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindDeposit:
		return "deposits", nil
	case KindWithdraw:
		return "withdraws", nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", kind)
	}
}

// CreateTransaction inserts a new transaction
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	table, err := tableFor(tx.Kind)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + ` (
			id, ref_code, token_id, amount, account_name, bank_number, bank_code,
			callback_url, gateway_type, status, gateway_transaction_id, gateway_response,
			qr_code, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err = s.db.Exec(ctx, query,
		tx.ID,
		tx.RefCode,
		tx.TokenID,
		tx.Amount.String(),
		tx.AccountName,
		tx.BankNumber,
		tx.BankCode,
		tx.CallbackURL,
		tx.GatewayType,
		string(tx.Status),
		database.NullableString(tx.GatewayTransactionID),
		nullableJSON(tx.GatewayResponse),
		database.NullableString(tx.QRCode),
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%s %s: %w", tx.Kind, tx.RefCode, ErrDuplicate)
		}
		return fmt.Errorf("creating %s: %w", tx.Kind, err)
	}
	return nil
}

// GetTransaction retrieves a transaction by refCode
func (s *PostgresStore) GetTransaction(ctx context.Context, kind Kind, refCode string) (*Transaction, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, ref_code, token_id, amount::text, account_name, bank_number, bank_code,
		       callback_url, gateway_type, status, gateway_transaction_id, gateway_response,
		       qr_code, created_at, updated_at, completed_at
		FROM ` + table + `
		WHERE ref_code = $1
	`

	tx, err := scanTransaction(s.db.QueryRow(ctx, query, refCode))
	if err != nil {
		return nil, err
	}
	tx.Kind = kind
	return tx, nil
}

// CompleteTransaction latches a pending transaction to completed
func (s *PostgresStore) CompleteTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error) {
	return s.transition(ctx, kind, refCode, StatusCompleted, at)
}

// FailTransaction latches a pending transaction to fail
func (s *PostgresStore) FailTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error) {
	return s.transition(ctx, kind, refCode, StatusFail, at)
}

// transition writes a terminal status only while the row is still pending.
// completed_at is stamped only on the move into completed, so it is written at
// most once and never for failed transactions.
func (s *PostgresStore) transition(ctx context.Context, kind Kind, refCode string, to Status, at time.Time) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE ` + table + `
		SET status = $2,
		    completed_at = CASE WHEN $4::boolean THEN $3 ELSE completed_at END,
		    updated_at = $3
		WHERE ref_code = $1 AND status = 'pending'
	`

	tag, err := s.db.Exec(ctx, query, refCode, string(to), at, to == StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("updating %s status: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetGatewayTransactionID records the provider transaction id if none is set yet
func (s *PostgresStore) SetGatewayTransactionID(ctx context.Context, kind Kind, refCode, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := `
		UPDATE ` + table + `
		SET gateway_transaction_id = $2, updated_at = NOW()
		WHERE ref_code = $1 AND COALESCE(gateway_transaction_id, '') = ''
	`

	if _, err := s.db.Exec(ctx, query, refCode, id); err != nil {
		return fmt.Errorf("setting %s transaction id: %w", kind, err)
	}
	return nil
}

// SetGatewayResponse replaces the retained provider payload
func (s *PostgresStore) SetGatewayResponse(ctx context.Context, kind Kind, refCode string, raw json.RawMessage) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := `
		UPDATE ` + table + `
		SET gateway_response = $2, updated_at = NOW()
		WHERE ref_code = $1
	`

	if _, err := s.db.Exec(ctx, query, refCode, nullableJSON(raw)); err != nil {
		return fmt.Errorf("setting %s gateway response: %w", kind, err)
	}
	return nil
}

// AppendWebhook inserts a webhook audit record
func (s *PostgresStore) AppendWebhook(ctx context.Context, rec *WebhookRecord) error {
	query := `
		INSERT INTO webhooks (id, ref_code, transaction_type, gateway_type, raw_payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	payload := rec.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.RefCode,
		string(rec.TransactionType),
		rec.GatewayType,
		payload,
		rec.Status,
		rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("appending webhook: %w", err)
	}
	return nil
}

// MarkWebhookProcessed closes a webhook record with the transaction it was matched to
func (s *PostgresStore) MarkWebhookProcessed(ctx context.Context, id string, kind Kind, refCode string, at time.Time) error {
	query := `
		UPDATE webhooks
		SET status = $2, processed_at = $3, transaction_type = $4, ref_code = $5
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, id, WebhookProcessed, at, string(kind), refCode)
	if err != nil {
		return fmt.Errorf("marking webhook processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// FindCustomer returns the cached provider payee registration
func (s *PostgresStore) FindCustomer(ctx context.Context, provider, accountName, bankNumber, bankCode string) (*gateway.Customer, error) {
	query := `
		SELECT id, provider, account_name, bank_number, bank_code, customer_uuid, created_at
		FROM customers
		WHERE provider = $1 AND account_name = $2 AND bank_number = $3 AND bank_code = $4
	`

	var c gateway.Customer
	err := s.db.QueryRow(ctx, query, provider, accountName, bankNumber, bankCode).Scan(
		&c.ID, &c.Provider, &c.AccountName, &c.BankNumber, &c.BankCode, &c.CustomerUUID, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer: %w", err)
	}
	return &c, nil
}

// SaveCustomer persists a payee registration
func (s *PostgresStore) SaveCustomer(ctx context.Context, c *gateway.Customer) error {
	query := `
		INSERT INTO customers (id, provider, account_name, bank_number, bank_code, customer_uuid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		c.ID, c.Provider, c.AccountName, c.BankNumber, c.BankCode, c.CustomerUUID, c.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("saving customer: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t           Transaction
		amount      string
		status      string
		gatewayTxID *string
		gatewayResp []byte
		qrCode      *string
	)
	err := row.Scan(
		&t.ID, &t.RefCode, &t.TokenID, &amount, &t.AccountName, &t.BankNumber, &t.BankCode,
		&t.CallbackURL, &t.GatewayType, &status, &gatewayTxID, &gatewayResp,
		&qrCode, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	t.Status = Status(status)
	t.GatewayTransactionID = database.StringValue(gatewayTxID)
	t.QRCode = database.StringValue(qrCode)
	if len(gatewayResp) > 0 {
		t.GatewayResponse = json.RawMessage(gatewayResp)
	}
	return &t, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
