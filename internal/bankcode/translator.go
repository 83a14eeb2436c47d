// Package bankcode translates canonical bank codes into each provider's dialect.
//
// Canonical codes are numeric ("004"). Provider dialects are alphabetic ("KBANK").
// Either form is accepted on input; a provider-native code is validated against the
// provider's table and returned unchanged.
package bankcode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paygate/internal/common/database"
)

// ErrUnsupportedBankCode is returned when no mapping row exists.
var ErrUnsupportedBankCode = errors.New("unsupported bank code")

// Bank is a row of the static bank reference table.
type Bank struct {
	Code          string            `json:"code" yaml:"code"`
	Name          string            `json:"name" yaml:"name"`
	ProviderCodes map[string]string `json:"providers,omitempty" yaml:"providers"`
}

// ProviderCode returns the bank's code in the given provider's dialect.
func (b *Bank) ProviderCode(provider string) (string, bool) {
	code, ok := b.ProviderCodes[normalizeProvider(provider)]
	return code, ok && code != ""
}

// Store reads the bank reference table.
type Store interface {
	GetBank(ctx context.Context, code string) (*Bank, error)
	FindByProviderCode(ctx context.Context, provider, providerCode string) (*Bank, error)
}

// Translator maps bank codes between the canonical form and provider dialects.
type Translator struct {
	store Store
}

// NewTranslator creates a translator backed by store.
func NewTranslator(store Store) *Translator {
	return &Translator{store: store}
}

// Translate returns the provider-specific code for code.
func (t *Translator) Translate(ctx context.Context, code, provider string) (string, error) {
	bank, err := t.Resolve(ctx, code, provider)
	if err != nil {
		return "", err
	}

	providerCode, ok := bank.ProviderCode(provider)
	if !ok {
		return "", unsupported(code, provider)
	}
	return providerCode, nil
}

// Resolve returns the canonical bank row for code, which may be canonical or provider-native.
func (t *Translator) Resolve(ctx context.Context, code, provider string) (*Bank, error) {
	code = strings.TrimSpace(code)
	provider = normalizeProvider(provider)
	if code == "" || provider == "" {
		return nil, unsupported(code, provider)
	}

	var (
		bank *Bank
		err  error
	)
	if IsCanonical(code) {
		bank, err = t.store.GetBank(ctx, code)
	} else {
		bank, err = t.store.FindByProviderCode(ctx, provider, code)
	}
	if err != nil {
		if database.IsNotFound(err) {
			return nil, unsupported(code, provider)
		}
		return nil, fmt.Errorf("looking up bank %s: %w", code, err)
	}

	if _, ok := bank.ProviderCode(provider); !ok {
		return nil, unsupported(code, provider)
	}
	return bank, nil
}

// IsCanonical reports whether code is in the numeric canonical form.
func IsCanonical(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func unsupported(code, provider string) error {
	return fmt.Errorf("%w: %q for provider %q", ErrUnsupportedBankCode, code, provider)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
