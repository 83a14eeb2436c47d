// Package ratelimit provides a Redis fixed-window limiter for middleware.RateLimit.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limit configuration. An empty URL disables limiting.
type Config struct {
	URL    string        `envconfig:"REDIS_URL"`
	Prefix string        `envconfig:"RATE_LIMIT_PREFIX" default:"paygate:rate_limit"`
	Limit  int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	Window time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter over client.
func NewLimiter(client redis.UniversalClient, cfg Config) *Limiter {
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.Prefix), ":")
	if prefix == "" {
		prefix = "paygate:rate_limit"
	}
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Connect parses cfg.URL and pings the server.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Allow consumes one request from key's current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, nil
	}

	windowMs := l.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(key)}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("running rate limit script: %w", err)
	}
	return count <= int64(l.limit), nil
}

func (l *Limiter) key(subject string) string {
	return fmt.Sprintf("%s:%s", l.prefix, strings.TrimSpace(subject))
}
