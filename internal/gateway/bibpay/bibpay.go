// Package bibpay implements the BibPay payment strategy.
//
// BibPay authenticates every call with a static merchant key and an
// HMAC-SHA256 signature of the request body. A call succeeded when the JSON
// body's boolean "status" field is true.
package bibpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paygate/internal/common/metrics"
	"paygate/internal/gateway"
)

// Config holds BibPay adapter configuration.
type Config struct {
	BaseURL string        `envconfig:"BIBPAY_BASE_URL" default:"https://api.bibpay.co"`
	Timeout time.Duration `envconfig:"BIBPAY_TIMEOUT" default:"30s"`
}

// Header names used for request signing.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

type transferRequest struct {
	RefCode       string `json:"ref_code"`
	Amount        string `json:"amount"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	CallbackURL   string `json:"callback_url"`
}

type apiResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransactionID string          `json:"transaction_id"`
		QRCode        string          `json:"qr_code"`
		Balance       decimal.Decimal `json:"balance"`
	} `json:"data"`
}

// Strategy implements gateway.Strategy for BibPay.
type Strategy struct {
	config     Config
	httpClient *http.Client
	banks      gateway.BankTranslator
	logger     *slog.Logger
	now        func() time.Time
}

var _ gateway.Strategy = (*Strategy)(nil)

// New creates a BibPay strategy.
func New(cfg Config, banks gateway.BankTranslator, logger *slog.Logger) *Strategy {
	return &Strategy{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		banks:  banks,
		logger: logger.With("provider", gateway.BibPay),
		now:    time.Now,
	}
}

// Name implements gateway.Strategy.
func (s *Strategy) Name() string {
	return gateway.BibPay
}

// CreateDeposit requests a QR deposit.
func (s *Strategy) CreateDeposit(ctx context.Context, req *gateway.PaymentRequest) *gateway.DepositResult {
	resp, raw, msg := s.transfer(ctx, "deposit", req)
	if resp == nil {
		return &gateway.DepositResult{Success: false, Message: msg, RawResponse: raw}
	}
	return &gateway.DepositResult{
		Success:       true,
		Message:       msg,
		TransactionID: resp.Data.TransactionID,
		QRCode:        resp.Data.QRCode,
		RawResponse:   raw,
	}
}

// CreateWithdraw requests a payout to the destination account.
func (s *Strategy) CreateWithdraw(ctx context.Context, req *gateway.PaymentRequest) *gateway.WithdrawResult {
	resp, raw, msg := s.transfer(ctx, "withdraw", req)
	if resp == nil {
		return &gateway.WithdrawResult{Success: false, Message: msg, RawResponse: raw}
	}
	return &gateway.WithdrawResult{
		Success:       true,
		Message:       msg,
		TransactionID: resp.Data.TransactionID,
		RawResponse:   raw,
	}
}

// GetBalance returns the merchant balance.
func (s *Strategy) GetBalance(ctx context.Context, creds gateway.Credentials) *gateway.BalanceResult {
	started := time.Now()
	resp, raw, msg := s.do(ctx, creds, http.MethodGet, "/api/v1/balance", nil, "balance")
	metrics.ObserveProviderCall(gateway.BibPay, "balance", resp != nil, started)
	if resp == nil {
		return &gateway.BalanceResult{Success: false, Message: msg, RawResponse: raw}
	}
	return &gateway.BalanceResult{
		Success:     true,
		Balance:     resp.Data.Balance,
		Message:     msg,
		RawResponse: raw,
	}
}

// HandleWebhook records the provider transaction id and retains the payload.
func (s *Strategy) HandleWebhook(ctx context.Context, event *gateway.WebhookEvent, book gateway.Bookkeeper) error {
	if event.TransactionID != "" {
		if err := book.SetGatewayTransactionID(ctx, event.TransactionID); err != nil {
			return fmt.Errorf("set bibpay transaction id: %w", err)
		}
	}
	if err := book.SetGatewayResponse(ctx, event.Payload); err != nil {
		return fmt.Errorf("retain bibpay webhook: %w", err)
	}
	return nil
}

func (s *Strategy) transfer(ctx context.Context, operation string, req *gateway.PaymentRequest) (*apiResponse, json.RawMessage, string) {
	started := time.Now()

	bankCode, err := s.banks.Translate(ctx, req.BankCode, gateway.BibPay)
	if err != nil {
		metrics.ObserveProviderCall(gateway.BibPay, operation, false, started)
		return nil, nil, err.Error()
	}

	payload, err := json.Marshal(transferRequest{
		RefCode:       req.RefCode,
		Amount:        req.Amount.String(),
		BankCode:      bankCode,
		AccountNumber: req.BankNumber,
		AccountName:   req.AccountName,
		CallbackURL:   req.CallbackURL,
	})
	if err != nil {
		metrics.ObserveProviderCall(gateway.BibPay, operation, false, started)
		return nil, nil, fmt.Sprintf("encode bibpay %s request: %v", operation, err)
	}

	s.logger.Info("sending bibpay request",
		"operation", operation,
		"ref_code", req.RefCode,
		"amount", req.Amount.String(),
		"bank_code", bankCode,
	)

	resp, raw, msg := s.do(ctx, req.Credentials, http.MethodPost, "/api/v1/"+operation, payload, operation)
	metrics.ObserveProviderCall(gateway.BibPay, operation, resp != nil, started)
	return resp, raw, msg
}

// do performs a signed call. A nil response means failure and msg explains it.
func (s *Strategy) do(ctx context.Context, creds gateway.Credentials, method, path string, payload []byte, operation string) (*apiResponse, json.RawMessage, string) {
	ts := strconv.FormatInt(s.now().Unix(), 10)

	header := http.Header{}
	header.Set(HeaderAPIKey, creds.APIKey)
	header.Set(HeaderTimestamp, ts)
	header.Set(HeaderSignature, Sign(creds.SecretKey, ts, payload))

	httpResp, err := gateway.DoJSON(ctx, s.httpClient, method, strings.TrimSuffix(s.config.BaseURL, "/")+path, header, payload)
	if err != nil {
		s.logger.Warn("bibpay request failed", "operation", operation, "error", err)
		return nil, nil, gateway.TransportMessage("bibpay", err)
	}

	raw := gateway.AuditPayload(httpResp.Body)

	var resp apiResponse
	if err := json.Unmarshal(httpResp.Body, &resp); err != nil {
		s.logger.Warn("bibpay returned unparseable response",
			"operation", operation,
			"http_status", httpResp.StatusCode,
			"error", err,
		)
		return nil, raw, fmt.Sprintf("invalid response from bibpay (HTTP %d)", httpResp.StatusCode)
	}

	if !resp.Status {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("bibpay rejected %s (HTTP %d)", operation, httpResp.StatusCode)
		}
		s.logger.Info("bibpay rejected request", "operation", operation, "message", msg)
		return nil, raw, msg
	}

	msg := resp.Message
	if msg == "" {
		msg = "success"
	}
	return &resp, raw, msg
}

// Sign computes the request signature: hex(HMAC-SHA256(secret, timestamp + "." + body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
