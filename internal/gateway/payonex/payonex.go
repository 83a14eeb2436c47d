// Package payonex implements the PayOneX payment strategy.
//
// PayOneX exchanges the merchant key pair for a short-lived bearer token and
// requires every payee to be registered as a customer before money moves.
// A call succeeded when the HTTP status is 2xx.
package payonex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"paygate/internal/common/database"
	"paygate/internal/common/metrics"
	"paygate/internal/gateway"
)

// Config holds PayOneX adapter configuration.
type Config struct {
	BaseURL string        `envconfig:"PAYONEX_BASE_URL" default:"https://api.payonex.asia"`
	Timeout time.Duration `envconfig:"PAYONEX_TIMEOUT" default:"30s"`
}

const codeCustomerExists = "CUSTOMER_ALREADY_EXISTS"

var (
	errUnauthorized = errors.New("payonex rejected merchant credentials")
	errUnavailable  = errors.New("payonex unavailable")
)

type authRequest struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	} `json:"data"`
}

type customerRequest struct {
	Name      string `json:"name"`
	BankCode  string `json:"bankCode"`
	AccountNo string `json:"accountNo"`
}

type customerRecord struct {
	CustomerUUID string `json:"customerUuid"`
	Name         string `json:"name"`
	BankCode     string `json:"bankCode"`
	AccountNo    string `json:"accountNo"`
}

type customerResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    customerRecord `json:"data"`
}

type customerSearchResponse struct {
	Success bool             `json:"success"`
	Data    []customerRecord `json:"data"`
}

type transactionRequest struct {
	CustomerUUID string      `json:"customerUuid"`
	Amount       json.Number `json:"amount"`
	ReferenceID  string      `json:"referenceId"`
	CallbackURL  string      `json:"callbackUrl,omitempty"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TransactionID string          `json:"transactionId"`
		QRCode        string          `json:"qrCode"`
		Balance       decimal.Decimal `json:"balance"`
	} `json:"data"`
}

// Strategy implements gateway.Strategy for PayOneX.
type Strategy struct {
	config     Config
	httpClient *http.Client
	banks      gateway.BankTranslator
	customers  gateway.CustomerStore
	tokens     *gateway.CredentialCache
	logger     *slog.Logger
	now        func() time.Time
}

var _ gateway.Strategy = (*Strategy)(nil)

// New creates a PayOneX strategy. The token cache is shared by all requests
// handled by this process.
func New(cfg Config, banks gateway.BankTranslator, customers gateway.CustomerStore, tokens *gateway.CredentialCache, logger *slog.Logger) *Strategy {
	return &Strategy{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		banks:     banks,
		customers: customers,
		tokens:    tokens,
		logger:    logger.With("provider", gateway.PayOneX),
		now:       time.Now,
	}
}

// Name implements gateway.Strategy.
func (s *Strategy) Name() string {
	return gateway.PayOneX
}

// CreateDeposit registers the payer if needed and requests a QR deposit.
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

// CreateWithdraw registers the payee if needed and requests a payout.
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

	httpResp, err := s.authorized(ctx, creds, http.MethodGet, "/balance", nil)
	if err != nil {
		metrics.ObserveProviderCall(gateway.PayOneX, "balance", false, started)
		return &gateway.BalanceResult{Success: false, Message: err.Error()}
	}

	resp, raw, msg := s.classify(httpResp, "balance")
	metrics.ObserveProviderCall(gateway.PayOneX, "balance", resp != nil, started)
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
			return fmt.Errorf("set payonex transaction id: %w", err)
		}
	}
	if err := book.SetGatewayResponse(ctx, event.Payload); err != nil {
		return fmt.Errorf("retain payonex webhook: %w", err)
	}

	s.logger.Info("payonex webhook booked",
		"ref_code", event.RefCode,
		"transaction_id", event.TransactionID,
		"status", event.Status,
	)
	return nil
}

func (s *Strategy) transfer(ctx context.Context, operation string, req *gateway.PaymentRequest) (*apiResponse, json.RawMessage, string) {
	started := time.Now()
	fail := func(msg string) (*apiResponse, json.RawMessage, string) {
		metrics.ObserveProviderCall(gateway.PayOneX, operation, false, started)
		return nil, nil, msg
	}

	bankCode, err := s.banks.Translate(ctx, req.BankCode, gateway.PayOneX)
	if err != nil {
		return fail(err.Error())
	}

	customerUUID, err := s.ensureCustomer(ctx, req.Credentials, req.AccountName, req.BankNumber, bankCode)
	if err != nil {
		s.logger.Warn("payonex customer registration failed",
			"ref_code", req.RefCode,
			"error", err,
		)
		return fail(err.Error())
	}

	payload, err := json.Marshal(transactionRequest{
		CustomerUUID: customerUUID,
		Amount:       json.Number(req.Amount.String()),
		ReferenceID:  req.RefCode,
		CallbackURL:  req.CallbackURL,
	})
	if err != nil {
		return fail(fmt.Sprintf("encode payonex %s request: %v", operation, err))
	}

	s.logger.Info("sending payonex request",
		"operation", operation,
		"ref_code", req.RefCode,
		"amount", req.Amount.String(),
		"customer_uuid", customerUUID,
	)

	httpResp, err := s.authorized(ctx, req.Credentials, http.MethodPost, "/transactions/"+operation+"/request", payload)
	if err != nil {
		return fail(err.Error())
	}

	resp, raw, msg := s.classify(httpResp, operation)
	metrics.ObserveProviderCall(gateway.PayOneX, operation, resp != nil, started)
	return resp, raw, msg
}

// classify applies the HTTP-status success rule. A nil response means failure.
func (s *Strategy) classify(httpResp *gateway.Response, operation string) (*apiResponse, json.RawMessage, string) {
	raw := gateway.AuditPayload(httpResp.Body)

	var resp apiResponse
	parseErr := json.Unmarshal(httpResp.Body, &resp)

	if !httpResp.OK() {
		msg := resp.Message
		if parseErr != nil || msg == "" {
			msg = fmt.Sprintf("payonex rejected %s (HTTP %d)", operation, httpResp.StatusCode)
		}
		s.logger.Info("payonex rejected request",
			"operation", operation,
			"http_status", httpResp.StatusCode,
			"message", msg,
		)
		return nil, raw, msg
	}

	if parseErr != nil {
		s.logger.Warn("payonex returned unparseable response", "operation", operation, "error", parseErr)
		return nil, raw, fmt.Sprintf("invalid response from payonex (HTTP %d)", httpResp.StatusCode)
	}

	msg := resp.Message
	if msg == "" {
		msg = "success"
	}
	return &resp, raw, msg
}

// ensureCustomer returns the provider customer id for the account, registering
// it on first use. The mapping is persisted before any money call.
func (s *Strategy) ensureCustomer(ctx context.Context, creds gateway.Credentials, accountName, bankNumber, bankCode string) (string, error) {
	existing, err := s.customers.FindCustomer(ctx, gateway.PayOneX, accountName, bankNumber, bankCode)
	switch {
	case err == nil:
		return existing.CustomerUUID, nil
	case !database.IsNotFound(err):
		return "", fmt.Errorf("look up customer: %w", err)
	}

	payload, err := json.Marshal(customerRequest{
		Name:      accountName,
		BankCode:  bankCode,
		AccountNo: bankNumber,
	})
	if err != nil {
		return "", fmt.Errorf("encode customer: %w", err)
	}

	httpResp, err := s.authorized(ctx, creds, http.MethodPost, "/customers", payload)
	if err != nil {
		return "", err
	}

	var created customerResponse
	decodeErr := json.Unmarshal(httpResp.Body, &created)

	var uuid string
	switch {
	case httpResp.OK() && created.Data.CustomerUUID != "":
		uuid = created.Data.CustomerUUID
	case httpResp.StatusCode == http.StatusConflict || created.Code == codeCustomerExists:
		uuid, err = s.searchCustomer(ctx, creds, bankNumber, bankCode)
		if err != nil {
			return "", err
		}
	default:
		msg := created.Message
		switch {
		case msg != "":
		case decodeErr != nil:
			msg = fmt.Sprintf("HTTP %d, invalid response body: %v", httpResp.StatusCode, decodeErr)
		default:
			msg = fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		}
		return "", fmt.Errorf("payonex customer registration rejected: %s", msg)
	}

	customer := &gateway.Customer{
		ID:           ulid.Make().String(),
		Provider:     gateway.PayOneX,
		AccountName:  accountName,
		BankNumber:   bankNumber,
		BankCode:     bankCode,
		CustomerUUID: uuid,
		CreatedAt:    s.now(),
	}
	if err := s.customers.SaveCustomer(ctx, customer); err != nil {
		if !errors.Is(err, database.ErrAlreadyExists) {
			return "", fmt.Errorf("save customer: %w", err)
		}
		s.logger.Debug("customer saved concurrently", "customer_uuid", uuid)
	}

	s.logger.Info("payonex customer registered", "customer_uuid", uuid, "bank_code", bankCode)
	return uuid, nil
}

func (s *Strategy) searchCustomer(ctx context.Context, creds gateway.Credentials, bankNumber, bankCode string) (string, error) {
	q := url.Values{}
	q.Set("accountNo", bankNumber)
	q.Set("bankCode", bankCode)

	httpResp, err := s.authorized(ctx, creds, http.MethodGet, "/customers?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if !httpResp.OK() {
		return "", fmt.Errorf("payonex customer search failed: HTTP %d", httpResp.StatusCode)
	}

	var found customerSearchResponse
	if err := json.Unmarshal(httpResp.Body, &found); err != nil {
		return "", fmt.Errorf("decode customer search: %w", err)
	}
	for _, c := range found.Data {
		if c.AccountNo == bankNumber && c.BankCode == bankCode && c.CustomerUUID != "" {
			return c.CustomerUUID, nil
		}
	}
	return "", errors.New("payonex reported duplicate customer but search found none")
}

// authorized sends a bearer-authenticated request. A 401 invalidates the cached
// token and the request is retried exactly once with a fresh login.
func (s *Strategy) authorized(ctx context.Context, creds gateway.Credentials, method, path string, payload []byte) (*gateway.Response, error) {
	token, err := s.bearer(ctx, creds)
	if err != nil {
		return nil, err
	}

	resp, err := s.send(ctx, token, method, path, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	s.logger.Info("payonex token rejected, re-authenticating", "path", path)
	s.tokens.Invalidate(creds)

	token, err = s.bearer(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, token, method, path, payload)
}

func (s *Strategy) send(ctx context.Context, token, method, path string, payload []byte) (*gateway.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	resp, err := gateway.DoJSON(ctx, s.httpClient, method, s.endpoint(path), header, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	return resp, nil
}

func (s *Strategy) bearer(ctx context.Context, creds gateway.Credentials) (string, error) {
	if token, ok := s.tokens.Get(creds); ok {
		return token, nil
	}

	tok, err := s.login(ctx, creds)
	if err != nil {
		return "", err
	}
	s.tokens.Put(creds, tok)
	return tok.Value, nil
}

func (s *Strategy) login(ctx context.Context, creds gateway.Credentials) (gateway.BearerToken, error) {
	payload, err := json.Marshal(authRequest{AccessKey: creds.APIKey, SecretKey: creds.SecretKey})
	if err != nil {
		return gateway.BearerToken{}, fmt.Errorf("encode login: %w", err)
	}

	resp, err := gateway.DoJSON(ctx, s.httpClient, http.MethodPost, s.endpoint("/authenticate"), nil, payload)
	if err != nil {
		return gateway.BearerToken{}, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return gateway.BearerToken{}, errUnauthorized
	}

	var auth authResponse
	if err := json.Unmarshal(resp.Body, &auth); err != nil {
		return gateway.BearerToken{}, fmt.Errorf("decode login response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !resp.OK() || auth.Data.Token == "" {
		msg := auth.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return gateway.BearerToken{}, fmt.Errorf("payonex login failed: %s", msg)
	}

	return gateway.BearerToken{
		Value:     auth.Data.Token,
		ExpiresAt: s.expiry(auth.Data.Token, auth.Data.ExpiresIn),
	}, nil
}

// expiry prefers the explicit lifetime and falls back to the token's exp claim.
// The claim is read without verification; the provider is the token's issuer.
func (s *Strategy) expiry(token string, expiresIn int64) time.Time {
	if expiresIn > 0 {
		return s.now().Add(time.Duration(expiresIn) * time.Second)
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		s.logger.Debug("payonex token is not a jwt, caching without expiry", "error", err)
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (s *Strategy) endpoint(path string) string {
	return strings.TrimSuffix(s.config.BaseURL, "/") + path
}
