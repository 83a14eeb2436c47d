// Package gateway defines the provider-agnostic payment strategy interface and the
// registry that resolves a provider identifier to its strategy.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifiers.
const (
	BibPay  = "bibpay"
	PayOneX = "payonex"
)

// Credentials are the provider credentials attached to a client token.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Configured reports whether both halves of the credential pair are set.
func (c Credentials) Configured() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

// PaymentRequest is the input of a deposit or withdraw call.
type PaymentRequest struct {
	Credentials Credentials
	RefCode     string
	Amount      decimal.Decimal
	AccountName string
	BankNumber  string
	BankCode    string
	CallbackURL string
}

// DepositResult is the structured outcome of CreateDeposit.
type DepositResult struct {
	Success       bool
	Message       string
	TransactionID string
	QRCode        string
	RawResponse   json.RawMessage
}

// WithdrawResult is the structured outcome of CreateWithdraw.
type WithdrawResult struct {
	Success       bool
	Message       string
	TransactionID string
	RawResponse   json.RawMessage
}

// BalanceResult is the structured outcome of GetBalance.
type BalanceResult struct {
	Success     bool
	Balance     decimal.Decimal
	Message     string
	RawResponse json.RawMessage
}

// WebhookEvent is a provider webhook after normalization, passed to the
// strategy for its provider-private bookkeeping.
type WebhookEvent struct {
	TransactionType string
	RefCode         string
	TransactionID   string
	Status          string
	Payload         json.RawMessage
}

// Bookkeeper exposes the transaction fields a strategy may maintain from a webhook.
// Status is deliberately absent: only the reconciliation engine transitions it.
type Bookkeeper interface {
	SetGatewayTransactionID(ctx context.Context, id string) error
	SetGatewayResponse(ctx context.Context, raw json.RawMessage) error
}

// Strategy is implemented once per provider.
//
// Create and balance calls never return Go errors: business rejections and
// transport failures both come back as Success=false with a display message.
type Strategy interface {
	Name() string
	CreateDeposit(ctx context.Context, req *PaymentRequest) *DepositResult
	CreateWithdraw(ctx context.Context, req *PaymentRequest) *WithdrawResult
	GetBalance(ctx context.Context, creds Credentials) *BalanceResult
	HandleWebhook(ctx context.Context, event *WebhookEvent, book Bookkeeper) error
}

// BankTranslator maps canonical bank codes to a provider dialect.
type BankTranslator interface {
	Translate(ctx context.Context, code, provider string) (string, error)
}

// Customer is a provider payee registration, cached forever once created.
type Customer struct {
	ID           string
	Provider     string
	AccountName  string
	BankNumber   string
	BankCode     string
	CustomerUUID string
	CreatedAt    time.Time
}

// CustomerStore persists payee registrations keyed by
// (provider, accountName, bankNumber, providerBankCode).
type CustomerStore interface {
	FindCustomer(ctx context.Context, provider, accountName, bankNumber, bankCode string) (*Customer, error)
	SaveCustomer(ctx context.Context, customer *Customer) error
}
