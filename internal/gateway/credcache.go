package gateway

import (
	"sync"
	"time"
)

// BearerToken is an access token obtained from a provider login exchange.
type BearerToken struct {
	Value     string
	ExpiresAt time.Time
}

// CredentialCache is process-local bearer token state keyed by credential pair.
// Entries are treated as expired slightly before their real expiry.
type CredentialCache struct {
	mu      sync.Mutex
	entries map[Credentials]BearerToken
	skew    time.Duration
	now     func() time.Time
}

// NewCredentialCache creates an empty cache.
func NewCredentialCache() *CredentialCache {
	return &CredentialCache{
		entries: make(map[Credentials]BearerToken),
		skew:    30 * time.Second,
		now:     time.Now,
	}
}

// Get returns a still-valid token for creds.
func (c *CredentialCache) Get(creds Credentials) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.entries[creds]
	if !ok {
		return "", false
	}
	if !tok.ExpiresAt.IsZero() && !c.now().Before(tok.ExpiresAt.Add(-c.skew)) {
		delete(c.entries, creds)
		return "", false
	}
	return tok.Value, true
}

// Put stores a token for creds. A zero ExpiresAt never expires on its own.
func (c *CredentialCache) Put(creds Credentials, tok BearerToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[creds] = tok
}

// Invalidate drops the cached token for creds, typically after a 401.
func (c *CredentialCache) Invalidate(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, creds)
}
