package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"paygate/internal/bankcode"
	"paygate/internal/common/events"
	"paygate/internal/common/middleware"
	"paygate/internal/gateway"
	"paygate/internal/token"
)

// Config holds engine configuration.
type Config struct {
	// PublicBaseURL is where providers reach this service; provider callbacks
	// are always pointed at PublicBaseURL + /webhooks/{provider}.
	PublicBaseURL   string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	CallbackTimeout time.Duration `envconfig:"CALLBACK_TIMEOUT" default:"10s"`
}

// Banks translates and resolves bank codes.
type Banks interface {
	Translate(ctx context.Context, code, provider string) (string, error)
	Resolve(ctx context.Context, code, provider string) (*bankcode.Bank, error)
}

// Engine creates transactions through provider strategies and reconciles them
// from provider webhooks.
type Engine struct {
	config    Config
	store     Store
	registry  *gateway.Registry
	banks     Banks
	publisher events.Publisher
	callbacks *http.Client
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time

	forwards sync.WaitGroup
}

// NewEngine creates a new engine. publisher may be nil.
func NewEngine(cfg Config, store Store, registry *gateway.Registry, banks Banks, publisher events.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		config:    cfg,
		store:     store,
		registry:  registry,
		banks:     banks,
		publisher: publisher,
		callbacks: &http.Client{Timeout: cfg.CallbackTimeout},
		validate:  validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WebhookURL is this service's inbound webhook endpoint for provider.
func (e *Engine) WebhookURL(provider string) string {
	return strings.TrimSuffix(e.config.PublicBaseURL, "/") + "/webhooks/" + provider
}

// CreateDeposit requests a deposit from the token's provider and records it as pending.
func (e *Engine) CreateDeposit(ctx context.Context, tok *token.Token, req *CreateRequest) (*CreateResult, error) {
	return e.create(ctx, KindDeposit, tok, req)
}

// CreateWithdraw requests a payout from the token's provider and records it as pending.
func (e *Engine) CreateWithdraw(ctx context.Context, tok *token.Token, req *CreateRequest) (*CreateResult, error) {
	return e.create(ctx, KindWithdraw, tok, req)
}

func (e *Engine) create(ctx context.Context, kind Kind, tok *token.Token, req *CreateRequest) (*CreateResult, error) {
	strategy, err := e.authorize(tok, kind)
	if err != nil {
		return nil, err
	}

	bank, err := e.validateRequest(ctx, strategy.Name(), req)
	if err != nil {
		return nil, err
	}

	// The unique index on ref_code still arbitrates concurrent submissions.
	if _, err := e.store.GetTransaction(ctx, kind, req.RefCode); err == nil {
		return nil, &Error{Kind: KindDuplicate, Message: fmt.Sprintf("%s %s already exists", kind, req.RefCode)}
	} else if !errors.Is(err, ErrNotFound) {
		e.logger.Error("failed to check existing transaction", "kind", kind, "ref_code", req.RefCode, "error", err)
		return nil, internalError("checking existing transaction", err)
	}

	preq := &gateway.PaymentRequest{
		Credentials: tok.Credentials,
		RefCode:     req.RefCode,
		Amount:      req.Amount,
		AccountName: req.AccountName,
		BankNumber:  req.BankNumber,
		BankCode:    bank.Code,
		CallbackURL: e.WebhookURL(strategy.Name()),
	}

	var (
		success bool
		message string
		tx      = &Transaction{
			ID:          ulid.Make().String(),
			Kind:        kind,
			RefCode:     req.RefCode,
			TokenID:     tok.ID,
			Amount:      req.Amount,
			AccountName: req.AccountName,
			BankNumber:  req.BankNumber,
			BankCode:    bank.Code,
			CallbackURL: req.CallbackURL,
			GatewayType: strategy.Name(),
			Status:      StatusPending,
		}
	)

	switch kind {
	case KindDeposit:
		res := strategy.CreateDeposit(ctx, preq)
		success, message = res.Success, res.Message
		tx.GatewayTransactionID = res.TransactionID
		tx.QRCode = res.QRCode
		tx.GatewayResponse = res.RawResponse
	case KindWithdraw:
		res := strategy.CreateWithdraw(ctx, preq)
		success, message = res.Success, res.Message
		tx.GatewayTransactionID = res.TransactionID
		tx.GatewayResponse = res.RawResponse
	}

	if !success {
		e.logger.Info("provider rejected request",
			"kind", kind,
			"ref_code", req.RefCode,
			"gateway", strategy.Name(),
			"message", message,
		)
		return nil, providerError(message)
	}

	now := e.now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, &Error{Kind: KindDuplicate, Message: fmt.Sprintf("%s %s already exists", kind, req.RefCode), Err: err}
		}
		e.logger.Error("provider accepted request but persisting it failed",
			"kind", kind,
			"ref_code", req.RefCode,
			"gateway", strategy.Name(),
			"gateway_transaction_id", tx.GatewayTransactionID,
			"error", err,
		)
		return nil, internalError("storing transaction", err)
	}

	eventType := events.EventDepositCreated
	if kind == KindWithdraw {
		eventType = events.EventWithdrawCreated
	}
	e.publish(ctx, eventType, tok.ID, events.AggregateTransaction, tx.ID, events.TransactionCreatedData{
		RefCode:       tx.RefCode,
		Kind:          string(kind),
		GatewayType:   tx.GatewayType,
		Amount:        tx.Amount,
		BankCode:      tx.BankCode,
		TransactionID: tx.GatewayTransactionID,
	})

	e.logger.Info("transaction created",
		"kind", kind,
		"ref_code", tx.RefCode,
		"gateway", tx.GatewayType,
		"amount", tx.Amount.String(),
		"gateway_transaction_id", tx.GatewayTransactionID,
	)

	return &CreateResult{
		Success:       true,
		Message:       message,
		RefCode:       tx.RefCode,
		TransactionID: tx.GatewayTransactionID,
		QRCode:        tx.QRCode,
	}, nil
}

// authorize resolves the token's strategy and checks it may perform kind.
// An empty kind only checks that the token is usable.
func (e *Engine) authorize(tok *token.Token, kind Kind) (gateway.Strategy, error) {
	if tok == nil || !tok.IsActive {
		return nil, validationError("token is inactive", nil)
	}
	if tok.PaymentSys == "" {
		return nil, validationError("token has no payment gateway configured", nil)
	}

	strategy, err := e.registry.Resolve(tok.PaymentSys)
	if err != nil {
		return nil, validationError("unsupported payment gateway", err)
	}

	switch {
	case kind == KindDeposit && !tok.DepositEnabled:
		return nil, validationError("deposit is disabled for this token", nil)
	case kind == KindWithdraw && !tok.WithdrawEnabled:
		return nil, validationError("withdraw is disabled for this token", nil)
	}

	if !tok.Credentials.Configured() {
		return nil, validationError("provider credentials are not configured for this token", nil)
	}
	return strategy, nil
}

// validateRequest checks the request fields and resolves its bank code for provider.
func (e *Engine) validateRequest(ctx context.Context, provider string, req *CreateRequest) (*bankcode.Bank, error) {
	if req == nil {
		return nil, validationError("request is required", nil)
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, validationError("invalid request", err)
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be positive", nil)
	}

	bank, err := e.banks.Resolve(ctx, req.BankCode, provider)
	if err != nil {
		if errors.Is(err, bankcode.ErrUnsupportedBankCode) {
			return nil, validationError(err.Error(), err)
		}
		e.logger.Error("failed to resolve bank code", "bank_code", req.BankCode, "error", err)
		return nil, internalError("resolving bank code", err)
	}
	return bank, nil
}

// GetDeposit returns the caller's deposit with refCode.
func (e *Engine) GetDeposit(ctx context.Context, tok *token.Token, refCode string) (*Transaction, error) {
	return e.get(ctx, KindDeposit, tok, refCode)
}

// GetWithdraw returns the caller's withdraw with refCode.
func (e *Engine) GetWithdraw(ctx context.Context, tok *token.Token, refCode string) (*Transaction, error) {
	return e.get(ctx, KindWithdraw, tok, refCode)
}

func (e *Engine) get(ctx context.Context, kind Kind, tok *token.Token, refCode string) (*Transaction, error) {
	notFound := &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", kind, refCode)}

	tx, err := e.store.GetTransaction(ctx, kind, refCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound
		}
		e.logger.Error("failed to load transaction", "kind", kind, "ref_code", refCode, "error", err)
		return nil, internalError("loading transaction", err)
	}
	if tok != nil && tx.TokenID != tok.ID {
		return nil, notFound
	}
	return tx, nil
}

// GetBalance queries the merchant balance at the token's provider.
func (e *Engine) GetBalance(ctx context.Context, tok *token.Token) (*Balance, error) {
	strategy, err := e.authorize(tok, "")
	if err != nil {
		return nil, err
	}

	res := strategy.GetBalance(ctx, tok.Credentials)
	if !res.Success {
		return nil, providerError(res.Message)
	}
	return &Balance{
		GatewayType: strategy.Name(),
		Balance:     res.Balance,
		Message:     res.Message,
	}, nil
}

func (e *Engine) publish(ctx context.Context, eventType, tokenID, aggregateType, aggregateID string, data interface{}) {
	if e.publisher == nil {
		return
	}

	event, err := events.NewEvent(eventType, tokenID, aggregateType, aggregateID, data)
	if err != nil {
		e.logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event", "type", eventType, "aggregate_id", aggregateID, "error", err)
	}
}
