package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type namedStrategy struct {
	Strategy
	name string
}

func (s namedStrategy) Name() string { return s.name }

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(namedStrategy{name: BibPay}, namedStrategy{name: "PayOneX"})

	for _, id := range []string{"bibpay", "BibPay", " payonex "} {
		if _, err := r.Resolve(id); err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", id, err)
		}
	}

	_, err := r.Resolve("stripe")
	if !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != BibPay || names[1] != PayOneX {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestCredentialCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCredentialCache()
	c.now = func() time.Time { return now }

	creds := Credentials{APIKey: "k", SecretKey: "s"}
	other := Credentials{APIKey: "k", SecretKey: "other"}

	if _, ok := c.Get(creds); ok {
		t.Fatal("expected empty cache")
	}

	c.Put(creds, BearerToken{Value: "tok-1", ExpiresAt: now.Add(time.Hour)})
	if got, ok := c.Get(creds); !ok || got != "tok-1" {
		t.Fatalf("expected cached token, got %q ok=%v", got, ok)
	}
	if _, ok := c.Get(other); ok {
		t.Fatal("cache must be keyed by the full credential pair")
	}

	now = now.Add(time.Hour - 10*time.Second)
	if _, ok := c.Get(creds); ok {
		t.Fatal("expected token inside the expiry skew to be treated as expired")
	}

	c.Put(creds, BearerToken{Value: "tok-2"})
	c.Invalidate(creds)
	if _, ok := c.Get(creds); ok {
		t.Fatal("expected invalidated token to be gone")
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("expected custom header to be forwarded")
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-Test", "yes")
	resp, err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, header, []byte(`{}`))
	if err != nil {
		t.Fatalf("DoJSON returned error: %v", err)
	}
	if resp.OK() || resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := string(AuditPayload(resp.Body)); got != `"upstream down"` {
		t.Fatalf("expected non-JSON body to be quoted, got %s", got)
	}
}
