package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"paygate/internal/common/events"
	"paygate/internal/common/metrics"
	"paygate/internal/gateway"
)

// HandleWebhook applies an inbound provider webhook. It only fails when
// provider is not a registered gateway; every later problem is logged and the
// webhook is still acknowledged.
func (e *Engine) HandleWebhook(ctx context.Context, provider string, raw []byte) error {
	strategy, err := e.registry.Resolve(provider)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("unknown provider %q", provider), Err: err}
	}
	provider = strategy.Name()
	logger := e.logger.With("gateway", provider)

	rec := &WebhookRecord{
		ID:          ulid.Make().String(),
		GatewayType: provider,
		RawPayload:  gateway.AuditPayload(raw),
		Status:      WebhookReceived,
		ReceivedAt:  e.now(),
	}
	recorded := true
	if err := e.store.AppendWebhook(ctx, rec); err != nil {
		recorded = false
		logger.Error("failed to record webhook", "webhook_id", rec.ID, "error", err)
	}

	kind, refCode, outcome := e.applyWebhook(ctx, logger, strategy, rec.ID, raw)
	metrics.WebhooksTotal.WithLabelValues(provider, outcome).Inc()

	if recorded {
		if err := e.store.MarkWebhookProcessed(ctx, rec.ID, kind, refCode, e.now()); err != nil {
			logger.Error("failed to mark webhook processed", "webhook_id", rec.ID, "error", err)
		}
	}
	return nil
}

// applyWebhook runs matching, status reconciliation, forwarding and strategy
// bookkeeping. It returns what the webhook was matched to and a metrics outcome.
func (e *Engine) applyWebhook(ctx context.Context, logger *slog.Logger, strategy gateway.Strategy, webhookID string, raw []byte) (Kind, string, string) {
	payload, err := Normalize(strategy.Name(), raw)
	if err != nil {
		logger.Warn("discarding webhook that cannot be normalized", "webhook_id", webhookID, "error", err)
		return "", "", "invalid"
	}
	logger = logger.With("ref_code", payload.RefCode)

	stated := payload.TransactionType
	tx, err := e.match(ctx, strategy.Name(), payload.RefCode, stated)
	if err != nil {
		logger.Error("failed to match webhook", "webhook_id", webhookID, "error", err)
		return fallbackKind(stated), payload.RefCode, "error"
	}
	if tx == nil {
		kind := fallbackKind(stated)
		payload.TransactionType = kind
		logger.Warn("webhook matches no transaction", "webhook_id", webhookID, "kind", kind)
		e.publish(ctx, events.EventWebhookReceived, "", events.AggregateWebhook, webhookID, events.WebhookReceivedData{
			WebhookID:   webhookID,
			GatewayType: strategy.Name(),
			RefCode:     payload.RefCode,
			Kind:        string(kind),
		})
		return kind, payload.RefCode, "unmatched"
	}
	if !strings.EqualFold(tx.GatewayType, strategy.Name()) {
		logger.Warn("webhook refers to a transaction routed to another provider, ignoring",
			"webhook_id", webhookID,
			"kind", tx.Kind,
			"owner", tx.GatewayType,
		)
		return tx.Kind, tx.RefCode, "foreign"
	}

	payload.TransactionType = tx.Kind
	e.fillFromTransaction(ctx, strategy.Name(), payload, tx)
	logger = logger.With("kind", tx.Kind)

	e.publish(ctx, events.EventWebhookReceived, tx.TokenID, events.AggregateWebhook, webhookID, events.WebhookReceivedData{
		WebhookID:   webhookID,
		GatewayType: strategy.Name(),
		RefCode:     tx.RefCode,
		Kind:        string(tx.Kind),
		Matched:     true,
	})

	e.reconcile(ctx, logger, tx, payload)

	if callback := e.WebhookURL(strategy.Name()); tx.CallbackURL == callback {
		logger.Warn("callback url points back at this service, not forwarding", "callback_url", tx.CallbackURL)
	} else {
		e.forward(tx, payload)
	}

	event := &gateway.WebhookEvent{
		TransactionType: string(tx.Kind),
		RefCode:         tx.RefCode,
		TransactionID:   payload.TransactionID,
		Status:          string(payload.Status),
		Payload:         json.RawMessage(raw),
	}
	if err := strategy.HandleWebhook(ctx, event, recordBook{store: e.store, kind: tx.Kind, refCode: tx.RefCode}); err != nil {
		logger.Error("provider webhook bookkeeping failed", "webhook_id", webhookID, "error", err)
	}

	return tx.Kind, tx.RefCode, "matched"
}

// match finds the transaction refCode refers to. When the provider states the
// kind only that table is probed, otherwise deposits are probed before
// withdraws. A transaction routed to provider is preferred; a transaction of
// another provider is returned only when nothing else matches. A nil
// transaction means no match.
func (e *Engine) match(ctx context.Context, provider, refCode string, stated Kind) (*Transaction, error) {
	kinds := []Kind{KindDeposit, KindWithdraw}
	if stated != "" {
		kinds = []Kind{stated}
	}

	var foreign *Transaction
	for _, kind := range kinds {
		tx, err := e.store.GetTransaction(ctx, kind, refCode)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(tx.GatewayType, provider) {
			return tx, nil
		}
		if foreign == nil {
			foreign = tx
		}
	}
	return foreign, nil
}

// fallbackKind is the kind recorded for webhooks that match nothing.
func fallbackKind(stated Kind) Kind {
	if stated != "" {
		return stated
	}
	return KindDeposit
}

// reconcile latches the transaction to the webhook's terminal status. Records
// already completed or failed are left untouched.
func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, tx *Transaction, payload *CallbackPayload) {
	if !payload.Status.IsTerminal() {
		logger.Info("webhook reports non-terminal status", "status", payload.Status)
		return
	}

	at := e.now()
	var (
		changed bool
		err     error
	)
	switch payload.Status {
	case StatusCompleted:
		changed, err = e.store.CompleteTransaction(ctx, tx.Kind, tx.RefCode, at)
	case StatusFail:
		changed, err = e.store.FailTransaction(ctx, tx.Kind, tx.RefCode, at)
	}
	if err != nil {
		logger.Error("failed to update transaction status", "status", payload.Status, "error", err)
		return
	}
	if !changed {
		logger.Info("transaction already final, status unchanged",
			"current_status", tx.Status,
			"webhook_status", payload.Status,
		)
		return
	}

	tx.Status = payload.Status
	data := events.TransactionStatusData{
		RefCode:       tx.RefCode,
		Kind:          string(tx.Kind),
		GatewayType:   tx.GatewayType,
		Status:        string(payload.Status),
		TransactionID: payload.TransactionID,
	}

	eventType := events.EventTransactionFailed
	if payload.Status == StatusCompleted {
		tx.CompletedAt = &at
		data.CompletedAt = &at
		eventType = events.EventTransactionCompleted
	}
	e.publish(ctx, eventType, tx.TokenID, events.AggregateTransaction, tx.ID, data)

	logger.Info("transaction status updated", "status", payload.Status)
}

// fillFromTransaction completes the payload from the stored record and maps the
// provider bank code to its reference entry.
func (e *Engine) fillFromTransaction(ctx context.Context, provider string, payload *CallbackPayload, tx *Transaction) {
	if payload.TransactionID == "" {
		payload.TransactionID = tx.GatewayTransactionID
	}
	if payload.Amount.IsZero() {
		payload.Amount = tx.Amount
	}
	if payload.BankNumber == "" {
		payload.BankNumber = tx.BankNumber
	}
	if payload.AccountName == "" {
		payload.AccountName = tx.AccountName
	}

	code := payload.Bank.Code
	if code == "" {
		code = tx.BankCode
	}
	bank, err := e.banks.Resolve(ctx, code, provider)
	if err != nil {
		e.logger.Debug("webhook bank code not in reference table", "bank_code", code, "error", err)
		payload.Bank = CallbackBank{Code: code}
		return
	}
	payload.Bank = CallbackBank{Name: bank.Name, Code: bank.Code}
}
