package bankcode

import (
	"context"

	"paygate/internal/common/database"
)

// StaticStore is an in-memory bank table.
type StaticStore struct {
	banks map[string]*Bank
}

// NewStaticStore builds a store from a fixed list of banks.
func NewStaticStore(banks []Bank) *StaticStore {
	s := &StaticStore{banks: make(map[string]*Bank, len(banks))}
	for i := range banks {
		b := banks[i]
		codes := make(map[string]string, len(b.ProviderCodes))
		for provider, code := range b.ProviderCodes {
			codes[normalizeProvider(provider)] = code
		}
		b.ProviderCodes = codes
		s.banks[b.Code] = &b
	}
	return s
}

// GetBank implements Store.
func (s *StaticStore) GetBank(_ context.Context, code string) (*Bank, error) {
	if b, ok := s.banks[code]; ok {
		return b, nil
	}
	return nil, database.ErrNotFound
}

// FindByProviderCode implements Store.
func (s *StaticStore) FindByProviderCode(_ context.Context, provider, providerCode string) (*Bank, error) {
	provider = normalizeProvider(provider)
	for _, b := range s.banks {
		if b.ProviderCodes[provider] == providerCode {
			return b, nil
		}
	}
	return nil, database.ErrNotFound
}
