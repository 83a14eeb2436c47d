package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event represents a payment lifecycle event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TokenID       string          `json:"token_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, tokenID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		TokenID:       tokenID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID of the request that caused the event
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	EventDepositCreated       = "payment.deposit.created"
	EventWithdrawCreated      = "payment.withdraw.created"
	EventWebhookReceived      = "payment.webhook.received"
	EventTransactionCompleted = "payment.transaction.completed"
	EventTransactionFailed    = "payment.transaction.failed"
	EventCallbackForwarded    = "payment.callback.forwarded"
	EventCallbackFailed       = "payment.callback.failed"
)

// Aggregate types
const (
	AggregateTransaction = "transaction"
	AggregateWebhook     = "webhook"
)

// TransactionCreatedData is the data for payment.*.created events
type TransactionCreatedData struct {
	RefCode       string          `json:"ref_code"`
	Kind          string          `json:"kind"`
	GatewayType   string          `json:"gateway_type"`
	Amount        decimal.Decimal `json:"amount"`
	BankCode      string          `json:"bank_code"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// WebhookReceivedData is the data for payment.webhook.received events
type WebhookReceivedData struct {
	WebhookID   string `json:"webhook_id"`
	GatewayType string `json:"gateway_type"`
	RefCode     string `json:"ref_code"`
	Kind        string `json:"kind"`
	Matched     bool   `json:"matched"`
}

// TransactionStatusData is the data for payment.transaction.* events
type TransactionStatusData struct {
	RefCode       string     `json:"ref_code"`
	Kind          string     `json:"kind"`
	GatewayType   string     `json:"gateway_type"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// CallbackData is the data for payment.callback.* events
type CallbackData struct {
	RefCode     string `json:"ref_code"`
	Kind        string `json:"kind"`
	CallbackURL string `json:"callback_url"`
	StatusCode  int    `json:"status_code,omitempty"`
	Error       string `json:"error,omitempty"`
}
