// Package ratelimit provides the Redis-backed fixed-window counter behind
// core.RateLimit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classbook/internal/config"
	"classbook/internal/core"
)

// incrWindow counts one request and starts the window on the first one.
// Returns {count, ttl_ms}.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore implements core.RateLimitStore.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

var _ core.RateLimitStore = (*RedisStore)(nil)

// NewRedisStore wraps a go-redis client. Keys are stored under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewClient builds the go-redis client from RedisConfig. It returns nil when
// no address is configured, which disables rate limiting.
func NewClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Unmask(),
		DB:       cfg.DB,
	})
}

// IncrementAndCheck implements core.RateLimitStore.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	vals, err := incrWindow.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("ratelimit: redis script failed: %w", err)
	}
	if len(vals) != 2 {
		return core.RateLimitResult{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	count, ttl := vals[0], vals[1]

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   s.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Probe reports Redis reachability on /health.
type Probe struct {
	Client redis.Cmdable
}

// Name implements core.HealthProbe.
func (p Probe) Name() string { return "redis" }

// Check implements core.HealthProbe.
func (p Probe) Check(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
