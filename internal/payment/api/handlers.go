// Package api exposes the payment engine over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"paygate/internal/common/api"
	"paygate/internal/common/middleware"
	"paygate/internal/payment"
	"paygate/internal/token"
)

const maxWebhookBytes = 1 << 20

// Engine is the payment engine as used by the HTTP layer.
type Engine interface {
	CreateDeposit(ctx context.Context, tok *token.Token, req *payment.CreateRequest) (*payment.CreateResult, error)
	CreateWithdraw(ctx context.Context, tok *token.Token, req *payment.CreateRequest) (*payment.CreateResult, error)
	GetDeposit(ctx context.Context, tok *token.Token, refCode string) (*payment.Transaction, error)
	GetWithdraw(ctx context.Context, tok *token.Token, refCode string) (*payment.Transaction, error)
	GetBalance(ctx context.Context, tok *token.Token) (*payment.Balance, error)
	HandleWebhook(ctx context.Context, provider string, raw []byte) error
}

var _ Engine = (*payment.Engine)(nil)

// Handler handles payment HTTP requests
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Routes returns the client routes. They expect middleware.TokenAuth upstream.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/deposits", h.CreateDeposit)
	r.Get("/deposits/{refCode}", h.GetDeposit)
	r.Post("/withdraws", h.CreateWithdraw)
	r.Get("/withdraws/{refCode}", h.GetWithdraw)
	r.Get("/balance", h.GetBalance)

	return r
}

// WebhookRoutes returns the unauthenticated provider callback routes
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.ReceiveWebhook)
	return r
}

// CreateDeposit handles POST /deposits
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.engine.CreateDeposit)
}

// CreateWithdraw handles POST /withdraws
func (h *Handler) CreateWithdraw(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.engine.CreateWithdraw)
}

type createFunc func(ctx context.Context, tok *token.Token, req *payment.CreateRequest) (*payment.CreateResult, error)

func (h *Handler) create(w http.ResponseWriter, r *http.Request, create createFunc) {
	tok, ok := token.FromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "API token required")
		return
	}

	var req payment.CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	res, err := create(r.Context(), tok, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusCreated, res)
}

// GetDeposit handles GET /deposits/{refCode}
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, h.engine.GetDeposit)
}

// GetWithdraw handles GET /withdraws/{refCode}
func (h *Handler) GetWithdraw(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, h.engine.GetWithdraw)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, get func(context.Context, *token.Token, string) (*payment.Transaction, error)) {
	tok, ok := token.FromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "API token required")
		return
	}

	tx, err := get(r.Context(), tok, chi.URLParam(r, "refCode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// GetBalance handles GET /balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	tok, ok := token.FromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "API token required")
		return
	}

	bal, err := h.engine.GetBalance(r.Context(), tok)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, bal)
}

// ReceiveWebhook handles POST /webhooks/{provider}. Known providers are always
// acknowledged so they do not retry.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "gateway", provider, "error", err)
		api.BadRequest(w, "unreadable body")
		return
	}

	if err := h.engine.HandleWebhook(r.Context(), provider, body); err != nil {
		if payment.IsNotFound(err) {
			api.NotFound(w, "unknown provider")
			return
		}
		h.logger.Error("webhook handling failed", "gateway", provider, "error", err)
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *payment.Error
	message := err.Error()
	if errors.As(err, &perr) {
		message = perr.Message
	}

	switch payment.KindOf(err) {
	case payment.KindValidation:
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			api.ValidationError(w, verrs)
			return
		}
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, message)
	case payment.KindDuplicate:
		api.Conflict(w, message)
	case payment.KindNotFound:
		api.NotFound(w, message)
	case payment.KindProvider:
		api.ProviderError(w, message)
	default:
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
		api.InternalError(w, "An unexpected error occurred")
	}
}
