package payonex

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"paygate/internal/bankcode"
	"paygate/internal/common/database"
	"paygate/internal/gateway"
)

type fakeCustomers struct {
	mu        sync.Mutex
	customers map[string]*gateway.Customer
	saveCalls int
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{customers: make(map[string]*gateway.Customer)}
}

func customerKey(provider, name, number, bank string) string {
	return provider + "|" + name + "|" + number + "|" + bank
}

func (f *fakeCustomers) FindCustomer(_ context.Context, provider, accountName, bankNumber, bankCode string) (*gateway.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[customerKey(provider, accountName, bankNumber, bankCode)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return c, nil
}

func (f *fakeCustomers) SaveCustomer(_ context.Context, c *gateway.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	key := customerKey(c.Provider, c.AccountName, c.BankNumber, c.BankCode)
	if _, ok := f.customers[key]; ok {
		return database.ErrAlreadyExists
	}
	f.customers[key] = c
	return nil
}

// fakeProvider is a scripted PayOneX API.
type fakeProvider struct {
	mu             sync.Mutex
	logins         int
	customerPosts  int
	customerSearch int
	moneyCalls     int
	lastTxn        transactionRequest
	customerStatus int
	customerBody   string
	rejectTokens   map[string]bool
	alwaysReject   bool
	moneyStatus    int
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.logins++
		n := p.logins
		p.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"data":{"token":"tok-` + string(rune('0'+n)) + `","expiresIn":3600}}`))
	})

	mux.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if r.Method == http.MethodGet {
			p.customerSearch++
			_, _ = w.Write([]byte(`{"success":true,"data":[{"customerUuid":"cus-existing","accountNo":"` +
				r.URL.Query().Get("accountNo") + `","bankCode":"` + r.URL.Query().Get("bankCode") + `"}]}`))
			return
		}
		p.customerPosts++
		if p.customerStatus == http.StatusConflict {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"success":false,"code":"CUSTOMER_ALREADY_EXISTS"}`))
			return
		}
		if p.customerBody != "" {
			_, _ = w.Write([]byte(p.customerBody))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"customerUuid":"cus-new"}}`))
	})

	money := func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.moneyCalls++
		p.mu.Unlock()
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"token expired"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		_ = json.Unmarshal(body, &p.lastTxn)
		status := p.moneyStatus
		p.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"success":false,"message":"amount exceeds limit"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"transactionId":"PX-1","qrCode":"000201PX"}}`))
	}
	mux.HandleFunc("/transactions/deposit/request", money)
	mux.HandleFunc("/transactions/withdraw/request", money)

	mux.HandleFunc("/balance", func(w http.ResponseWriter, r *http.Request) {
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"balance":12345.67}}`))
	})

	return mux
}

func (p *fakeProvider) authorized(r *http.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alwaysReject {
		return false
	}
	return !p.rejectTokens[r.Header.Get("Authorization")]
}

func newTestStrategy(t *testing.T, p *fakeProvider, customers *fakeCustomers) *Strategy {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	banks := bankcode.NewTranslator(bankcode.NewStaticStore([]bankcode.Bank{
		{Code: "004", Name: "Kasikorn Bank", ProviderCodes: map[string]string{"payonex": "KBNK"}},
	}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, banks, customers, gateway.NewCredentialCache(), logger)
}

func testRequest() *gateway.PaymentRequest {
	return &gateway.PaymentRequest{
		Credentials: gateway.Credentials{APIKey: "access", SecretKey: "secret"},
		RefCode:     "DEP001",
		Amount:      decimal.RequireFromString("250"),
		AccountName: "Somchai",
		BankNumber:  "1234567890",
		BankCode:    "004",
	}
}

func TestCreateDeposit_RegistersCustomerOnce(t *testing.T) {
	p := &fakeProvider{}
	customers := newFakeCustomers()
	s := newTestStrategy(t, p, customers)

	res := s.CreateDeposit(context.Background(), testRequest())
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.TransactionID != "PX-1" || res.QRCode != "000201PX" {
		t.Fatalf("unexpected result %+v", res)
	}
	if p.lastTxn.CustomerUUID != "cus-new" {
		t.Fatalf("expected cus-new, got %q", p.lastTxn.CustomerUUID)
	}
	if p.lastTxn.Amount.String() != "250" {
		t.Fatalf("expected numeric amount 250, got %q", p.lastTxn.Amount)
	}

	saved, err := customers.FindCustomer(context.Background(), gateway.PayOneX, "Somchai", "1234567890", "KBNK")
	if err != nil {
		t.Fatalf("expected customer mapping under provider bank code: %v", err)
	}
	if saved.CustomerUUID != "cus-new" {
		t.Fatalf("expected cus-new, got %q", saved.CustomerUUID)
	}

	req := testRequest()
	req.RefCode = "DEP002"
	if res := s.CreateDeposit(context.Background(), req); !res.Success {
		t.Fatalf("second deposit failed: %q", res.Message)
	}
	if p.customerPosts != 1 {
		t.Fatalf("expected one registration, got %d", p.customerPosts)
	}
	if p.logins != 1 {
		t.Fatalf("expected cached token to be reused, got %d logins", p.logins)
	}
}

func TestCreateWithdraw_DuplicateCustomerIsSearched(t *testing.T) {
	p := &fakeProvider{customerStatus: http.StatusConflict}
	customers := newFakeCustomers()
	s := newTestStrategy(t, p, customers)

	res := s.CreateWithdraw(context.Background(), testRequest())
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if p.customerSearch != 1 {
		t.Fatalf("expected one search, got %d", p.customerSearch)
	}
	if p.lastTxn.CustomerUUID != "cus-existing" {
		t.Fatalf("expected cus-existing, got %q", p.lastTxn.CustomerUUID)
	}
	if customers.saveCalls != 1 {
		t.Fatalf("expected mapping to be persisted, got %d saves", customers.saveCalls)
	}
}

func TestCreateDeposit_MalformedCustomerResponse(t *testing.T) {
	p := &fakeProvider{customerBody: `<html>gateway error</html>`}
	customers := newFakeCustomers()
	s := newTestStrategy(t, p, customers)

	res := s.CreateDeposit(context.Background(), testRequest())
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Message, "invalid response body") {
		t.Fatalf("expected decode error in message, got %q", res.Message)
	}
	if p.moneyCalls != 0 {
		t.Fatalf("expected no money call without a payee, got %d", p.moneyCalls)
	}
	if customers.saveCalls != 0 {
		t.Fatalf("expected nothing persisted, got %d saves", customers.saveCalls)
	}
}

func TestCreateDeposit_ReauthenticatesOnceOn401(t *testing.T) {
	p := &fakeProvider{rejectTokens: map[string]bool{"Bearer tok-1": true}}
	customers := newFakeCustomers()
	_ = customers.SaveCustomer(context.Background(), &gateway.Customer{
		Provider: gateway.PayOneX, AccountName: "Somchai", BankNumber: "1234567890", BankCode: "KBNK", CustomerUUID: "cus-known",
	})
	s := newTestStrategy(t, p, customers)

	res := s.CreateDeposit(context.Background(), testRequest())
	if !res.Success {
		t.Fatalf("expected success after re-auth, got %q", res.Message)
	}
	if p.logins != 2 {
		t.Fatalf("expected 2 logins, got %d", p.logins)
	}
	if p.moneyCalls != 2 {
		t.Fatalf("expected 2 money calls, got %d", p.moneyCalls)
	}
}

func TestCreateDeposit_PersistentUnauthorizedRetriesOnlyOnce(t *testing.T) {
	p := &fakeProvider{alwaysReject: true}
	customers := newFakeCustomers()
	_ = customers.SaveCustomer(context.Background(), &gateway.Customer{
		Provider: gateway.PayOneX, AccountName: "Somchai", BankNumber: "1234567890", BankCode: "KBNK", CustomerUUID: "cus-known",
	})
	s := newTestStrategy(t, p, customers)

	res := s.CreateDeposit(context.Background(), testRequest())
	if res.Success {
		t.Fatal("expected failure")
	}
	if p.moneyCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", p.moneyCalls)
	}
	if res.Message != "token expired" {
		t.Fatalf("expected provider message, got %q", res.Message)
	}
}

func TestCreateWithdraw_RejectedByStatus(t *testing.T) {
	p := &fakeProvider{moneyStatus: http.StatusUnprocessableEntity}
	s := newTestStrategy(t, p, newFakeCustomers())

	res := s.CreateWithdraw(context.Background(), testRequest())
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Message != "amount exceeds limit" {
		t.Fatalf("expected %q, got %q", "amount exceeds limit", res.Message)
	}
	if len(res.RawResponse) == 0 {
		t.Fatal("expected raw response to be retained")
	}
}

func TestGetBalance(t *testing.T) {
	s := newTestStrategy(t, &fakeProvider{}, newFakeCustomers())

	res := s.GetBalance(context.Background(), gateway.Credentials{APIKey: "a", SecretKey: "b"})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if !res.Balance.Equal(decimal.RequireFromString("12345.67")) {
		t.Fatalf("expected 12345.67, got %s", res.Balance)
	}
}

func TestExpiry(t *testing.T) {
	s := newTestStrategy(t, &fakeProvider{}, newFakeCustomers())
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	if got := s.expiry("opaque", 60); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected expiresIn to win, got %v", got)
	}

	exp := now.Add(2 * time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if got := s.expiry(signed, 0); !got.Equal(exp) {
		t.Fatalf("expected exp claim %v, got %v", exp, got)
	}

	if got := s.expiry("not-a-jwt", 0); !got.IsZero() {
		t.Fatalf("expected zero expiry for opaque token, got %v", got)
	}
}
