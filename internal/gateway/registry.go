package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedGateway is returned for unknown provider identifiers.
var ErrUnsupportedGateway = errors.New("unsupported gateway")

// Registry resolves provider identifiers to strategies. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry from the given strategies, keyed by Name().
func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[normalizeID(s.Name())] = s
	}
	return &Registry{strategies: m}
}

// Resolve returns the strategy registered under id.
func (r *Registry) Resolve(id string) (Strategy, error) {
	s, ok := r.strategies[normalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, id)
	}
	return s, nil
}

// Names lists the registered provider identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
