package payment

import (
	"context"
	"encoding/json"
	"time"

	"paygate/internal/gateway"
)

// Store persists transactions and webhook audit records.
//
// The refCode uniqueness constraint is the arbiter for concurrent duplicate
// submissions; CreateTransaction returns ErrDuplicate when it fires.
// CompleteTransaction and FailTransaction only act on pending records and
// report whether a transition happened.
type Store interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, kind Kind, refCode string) (*Transaction, error)
	CompleteTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error)
	FailTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error)
	SetGatewayTransactionID(ctx context.Context, kind Kind, refCode, id string) error
	SetGatewayResponse(ctx context.Context, kind Kind, refCode string, raw json.RawMessage) error

	AppendWebhook(ctx context.Context, rec *WebhookRecord) error
	MarkWebhookProcessed(ctx context.Context, id string, kind Kind, refCode string, at time.Time) error
}

// recordBook scopes a strategy's webhook bookkeeping to one transaction.
type recordBook struct {
	store   Store
	kind    Kind
	refCode string
}

var _ gateway.Bookkeeper = recordBook{}

func (b recordBook) SetGatewayTransactionID(ctx context.Context, id string) error {
	return b.store.SetGatewayTransactionID(ctx, b.kind, b.refCode, id)
}

func (b recordBook) SetGatewayResponse(ctx context.Context, raw json.RawMessage) error {
	return b.store.SetGatewayResponse(ctx, b.kind, b.refCode, raw)
}
