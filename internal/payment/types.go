// Package payment is the reconciliation engine: it creates deposits and
// withdraws through a provider strategy, persists them, and applies provider
// webhooks to the stored records before forwarding them to the client.
package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes deposits from withdraws. Each kind has its own table and
// its own refCode namespace.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFail      Status = "fail"
)

// IsTerminal reports whether no further transition may be applied.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFail
}

// Transaction is a persisted deposit or withdraw.
type Transaction struct {
	ID                   string          `json:"id"`
	Kind                 Kind            `json:"kind"`
	RefCode              string          `json:"refCode"`
	TokenID              string          `json:"-"`
	Amount               decimal.Decimal `json:"amount"`
	AccountName          string          `json:"accountName"`
	BankNumber           string          `json:"bankNumber"`
	BankCode             string          `json:"bankCode"`
	CallbackURL          string          `json:"callbackUrl"`
	GatewayType          string          `json:"gatewayType"`
	Status               Status          `json:"status"`
	GatewayTransactionID string          `json:"transactionId,omitempty"`
	GatewayResponse      json.RawMessage `json:"gatewayResponse,omitempty"`
	QRCode               string          `json:"qrCodeUrl,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
}

// Webhook record statuses.
const (
	WebhookReceived  = "received"
	WebhookProcessed = "processed"
)

// WebhookRecord is the append-only audit entry of an inbound provider webhook.
type WebhookRecord struct {
	ID              string
	RefCode         string
	TransactionType Kind
	GatewayType     string
	RawPayload      json.RawMessage
	Status          string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// CreateRequest is the client input of a deposit or withdraw.
type CreateRequest struct {
	RefCode     string          `json:"refCode" validate:"required,max=64"`
	Amount      decimal.Decimal `json:"amount"`
	AccountName string          `json:"accountName" validate:"required,max=255"`
	BankNumber  string          `json:"bankNumber" validate:"required,numeric,min=6,max=20"`
	BankCode    string          `json:"bankCode" validate:"required,max=16"`
	CallbackURL string          `json:"callbackUrl" validate:"required,url"`
}

// CreateResult is returned to the client when the provider accepted the request.
type CreateResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RefCode       string `json:"refCode"`
	TransactionID string `json:"transactionId,omitempty"`
	QRCode        string `json:"qrCodeUrl,omitempty"`
}

// Balance is the merchant balance reported by the token's provider.
type Balance struct {
	GatewayType string          `json:"gatewayType"`
	Balance     decimal.Decimal `json:"balance"`
	Message     string          `json:"message"`
}

// CallbackBank identifies the bank in a callback payload.
type CallbackBank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// CallbackPayload is the provider-independent webhook shape forwarded to clients.
type CallbackPayload struct {
	Status          Status          `json:"status"`
	Message         string          `json:"message"`
	TransactionType Kind            `json:"transactionType"`
	TransactionID   string          `json:"transactionId"`
	RefCode         string          `json:"refCode"`
	Amount          decimal.Decimal `json:"amount"`
	Bank            CallbackBank    `json:"bank"`
	BankNumber      string          `json:"bankNumber"`
	AccountName     string          `json:"accountName"`
}
