package token

import (
	"context"
	"testing"
)

func TestHash(t *testing.T) {
	got := Hash("secret-token")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != Hash("secret-token") {
		t.Fatal("expected hash to be deterministic")
	}
	if got == Hash("other-token") {
		t.Fatal("expected different tokens to hash differently")
	}
}

func TestContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no token on empty context")
	}

	tok := &Token{ID: "tok-1", PaymentSys: "bibpay"}
	got, ok := FromContext(WithContext(context.Background(), tok))
	if !ok || got.ID != "tok-1" {
		t.Fatalf("unexpected token %+v", got)
	}
}
