package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paygate/internal/bankcode"
	"paygate/internal/common/events"
	"paygate/internal/gateway"
	"paygate/internal/token"
)

// memStore is an in-memory Store with the same uniqueness and latch rules as
// the postgres implementation.
type memStore struct {
	mu          sync.Mutex
	txs         map[string]*Transaction
	webhooks    map[string]*WebhookRecord
	createCalls int
	transitions int
}

func newMemStore() *memStore {
	return &memStore{
		txs:      make(map[string]*Transaction),
		webhooks: make(map[string]*WebhookRecord),
	}
}

func txKey(kind Kind, refCode string) string {
	return string(kind) + "|" + refCode
}

func (m *memStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	k := txKey(tx.Kind, tx.RefCode)
	if _, ok := m.txs[k]; ok {
		return fmt.Errorf("%s %s: %w", tx.Kind, tx.RefCode, ErrDuplicate)
	}
	cp := *tx
	m.txs[k] = &cp
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, kind Kind, refCode string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txKey(kind, refCode)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memStore) CompleteTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error) {
	return m.transition(kind, refCode, StatusCompleted, at)
}

func (m *memStore) FailTransaction(ctx context.Context, kind Kind, refCode string, at time.Time) (bool, error) {
	return m.transition(kind, refCode, StatusFail, at)
}

func (m *memStore) transition(kind Kind, refCode string, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txKey(kind, refCode)]
	if !ok || tx.Status != StatusPending {
		return false, nil
	}
	tx.Status = to
	if to == StatusCompleted {
		tx.CompletedAt = &at
	}
	tx.UpdatedAt = at
	m.transitions++
	return true, nil
}

func (m *memStore) SetGatewayTransactionID(_ context.Context, kind Kind, refCode, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txKey(kind, refCode)]; ok && tx.GatewayTransactionID == "" {
		tx.GatewayTransactionID = id
	}
	return nil
}

func (m *memStore) SetGatewayResponse(_ context.Context, kind Kind, refCode string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txKey(kind, refCode)]; ok {
		tx.GatewayResponse = raw
	}
	return nil
}

func (m *memStore) AppendWebhook(_ context.Context, rec *WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.webhooks[rec.ID] = &cp
	return nil
}

func (m *memStore) MarkWebhookProcessed(_ context.Context, id string, kind Kind, refCode string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = WebhookProcessed
	rec.ProcessedAt = &at
	rec.TransactionType = kind
	rec.RefCode = refCode
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func (m *memStore) webhookList() []WebhookRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WebhookRecord, 0, len(m.webhooks))
	for _, rec := range m.webhooks {
		out = append(out, *rec)
	}
	return out
}

// fakeStrategy is a scripted provider. It is named bibpay unless name is set,
// and receives webhooks in that provider's shape.
type fakeStrategy struct {
	name          string
	mu            sync.Mutex
	depositCalls  int
	withdrawCalls int
	webhookCalls  int
	lastRequest   *gateway.PaymentRequest

	DepositFunc  func(ctx context.Context, req *gateway.PaymentRequest) *gateway.DepositResult
	WithdrawFunc func(ctx context.Context, req *gateway.PaymentRequest) *gateway.WithdrawResult
	BalanceFunc  func(ctx context.Context, creds gateway.Credentials) *gateway.BalanceResult
}

func (f *fakeStrategy) Name() string {
	if f.name != "" {
		return f.name
	}
	return gateway.BibPay
}

func (f *fakeStrategy) CreateDeposit(ctx context.Context, req *gateway.PaymentRequest) *gateway.DepositResult {
	f.mu.Lock()
	f.depositCalls++
	f.lastRequest = req
	fn := f.DepositFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &gateway.DepositResult{
		Success:       true,
		Message:       "ok",
		TransactionID: "BP-" + req.RefCode,
		QRCode:        "00020101021229370016A000000677010111",
		RawResponse:   json.RawMessage(`{"status":true}`),
	}
}

func (f *fakeStrategy) CreateWithdraw(ctx context.Context, req *gateway.PaymentRequest) *gateway.WithdrawResult {
	f.mu.Lock()
	f.withdrawCalls++
	f.lastRequest = req
	fn := f.WithdrawFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &gateway.WithdrawResult{Success: true, Message: "ok", TransactionID: "BP-" + req.RefCode}
}

func (f *fakeStrategy) GetBalance(ctx context.Context, creds gateway.Credentials) *gateway.BalanceResult {
	if f.BalanceFunc != nil {
		return f.BalanceFunc(ctx, creds)
	}
	return &gateway.BalanceResult{Success: true, Balance: decimal.NewFromInt(5000), Message: "ok"}
}

func (f *fakeStrategy) HandleWebhook(ctx context.Context, event *gateway.WebhookEvent, book gateway.Bookkeeper) error {
	f.mu.Lock()
	f.webhookCalls++
	f.mu.Unlock()
	if event.TransactionID != "" {
		return book.SetGatewayTransactionID(ctx, event.TransactionID)
	}
	return nil
}

func (f *fakeStrategy) calls() (deposits, withdraws, webhooks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depositCalls, f.withdrawCalls, f.webhookCalls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type capturedCallback struct {
	path    string
	tokenID string
	payload CallbackPayload
}

// callbackSink records client callback deliveries.
type callbackSink struct {
	mu       sync.Mutex
	status   int
	received []capturedCallback
	srv      *httptest.Server
}

func newCallbackSink(t *testing.T) *callbackSink {
	t.Helper()
	s := &callbackSink{status: http.StatusOK}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p CallbackPayload
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &p)

		s.mu.Lock()
		s.received = append(s.received, capturedCallback{
			path:    r.URL.Path,
			tokenID: r.Header.Get(HeaderTokenID),
			payload: p,
		})
		status := s.status
		s.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *callbackSink) calls() []capturedCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedCallback(nil), s.received...)
}

type harness struct {
	engine    *Engine
	store     *memStore
	strategy  *fakeStrategy
	payonex   *fakeStrategy
	publisher *fakePublisher
	sink      *callbackSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sink := newCallbackSink(t)
	store := newMemStore()
	strategy := &fakeStrategy{}
	payonex := &fakeStrategy{name: gateway.PayOneX}
	publisher := &fakePublisher{}

	banks := bankcode.NewTranslator(bankcode.NewStaticStore([]bankcode.Bank{
		{Code: "004", Name: "Kasikorn Bank", ProviderCodes: map[string]string{"bibpay": "KBANK", "payonex": "KBNK"}},
		{Code: "014", Name: "Siam Commercial Bank", ProviderCodes: map[string]string{"bibpay": "SCB"}},
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(Config{
		PublicBaseURL:   sink.srv.URL,
		CallbackTimeout: 2 * time.Second,
	}, store, gateway.NewRegistry(strategy, payonex), banks, publisher, logger)

	return &harness{
		engine:    engine,
		store:     store,
		strategy:  strategy,
		payonex:   payonex,
		publisher: publisher,
		sink:      sink,
	}
}

func (h *harness) clientCallbackURL() string {
	return h.sink.srv.URL + "/client/callback"
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// seed stores a pending bibpay transaction directly.
func (h *harness) seed(t *testing.T, kind Kind, refCode, callbackURL string) {
	t.Helper()
	h.seedFor(t, gateway.BibPay, kind, refCode, callbackURL)
}

func (h *harness) seedFor(t *testing.T, provider string, kind Kind, refCode, callbackURL string) {
	t.Helper()
	now := time.Now().UTC()
	err := h.store.CreateTransaction(context.Background(), &Transaction{
		ID:          "01HSEED" + refCode,
		Kind:        kind,
		RefCode:     refCode,
		TokenID:     "tok-1",
		Amount:      decimal.NewFromInt(100000),
		AccountName: "Somchai Jaidee",
		BankNumber:  "1234567890",
		BankCode:    "004",
		CallbackURL: callbackURL,
		GatewayType: provider,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func testToken() *token.Token {
	return &token.Token{
		ID:              "tok-1",
		Name:            "merchant",
		IsActive:        true,
		PaymentSys:      gateway.BibPay,
		DepositEnabled:  true,
		WithdrawEnabled: true,
		Credentials:     gateway.Credentials{APIKey: "key", SecretKey: "secret"},
	}
}

func testCreateRequest(refCode, callbackURL string) *CreateRequest {
	return &CreateRequest{
		RefCode:     refCode,
		Amount:      decimal.NewFromInt(100000),
		AccountName: "Somchai Jaidee",
		BankNumber:  "1234567890",
		BankCode:    "004",
		CallbackURL: callbackURL,
	}
}
