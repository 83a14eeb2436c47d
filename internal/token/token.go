// Package token resolves client API tokens to their gateway binding and
// provider credentials.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"paygate/internal/gateway"
)

// ErrInvalidToken is returned for unknown or inactive tokens.
var ErrInvalidToken = errors.New("invalid api token")

// Token is a client API token bound to one payment provider.
type Token struct {
	ID              string
	Name            string
	IsActive        bool
	PaymentSys      string
	DepositEnabled  bool
	WithdrawEnabled bool
	Credentials     gateway.Credentials
}

// Resolver looks tokens up by their raw bearer value.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*Token, error)
}

// Hash returns the stored form of a raw token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type contextKey struct{}

// WithContext attaches the authenticated token to ctx.
func WithContext(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the authenticated token, if any.
func FromContext(ctx context.Context) (*Token, bool) {
	t, ok := ctx.Value(contextKey{}).(*Token)
	return t, ok && t != nil
}
