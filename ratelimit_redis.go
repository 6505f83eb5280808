package sambung

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a distributed fixed-window limiter: the counter for each
// key lives in Redis (INCR with a window-length expiry on first hit), so
// multiple processes share one quota. Redis failures fail open and are
// logged; losing admission control beats failing every call when Redis is
// down.
type RedisLimiter struct {
	client redis.UniversalClient
	config LimiterConfig
	prefix string
	logger Logger
}

// NewRedisLimiter creates a Redis-backed limiter, applying defaults for zero
// config fields.
func NewRedisLimiter(client redis.UniversalClient, config LimiterConfig) *RedisLimiter {
	defaults := DefaultLimiterConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = defaults.RequestsPerWindow
	}
	if config.TimeWindow <= 0 {
		config.TimeWindow = defaults.TimeWindow
	}

	return &RedisLimiter{
		client: client,
		config: config,
		prefix: "sambung:ratelimit:",
		logger: NewNopLogger(),
	}
}

// SetLogger routes fail-open warnings to logger.
func (l *RedisLimiter) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Allow admits one call under key if the shared window counter is below
// quota.
func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := l.opContext()
	defer cancel()

	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		l.logger.Warn("rate limiter redis failure, failing open", "key", key, "error", err.Error())
		return true
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, k, l.config.TimeWindow).Err(); err != nil {
			l.logger.Warn("rate limiter expiry failed", "key", key, "error", err.Error())
		}
	}
	return count <= int64(l.config.RequestsPerWindow)
}

// Remaining returns how many admissions key has left in the current window.
func (l *RedisLimiter) Remaining(key string) int {
	ctx, cancel := l.opContext()
	defer cancel()

	count, err := l.client.Get(ctx, l.prefix+key).Int()
	if err == redis.Nil {
		return l.config.RequestsPerWindow
	}
	if err != nil {
		l.logger.Warn("rate limiter redis failure", "key", key, "error", err.Error())
		return l.config.RequestsPerWindow
	}
	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears key's shared counter.
func (l *RedisLimiter) Reset(key string) {
	ctx, cancel := l.opContext()
	defer cancel()

	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		l.logger.Warn("rate limiter reset failed", "key", key, "error", err.Error())
	}
}

// opContext bounds each Redis round trip; the Limiter contract carries no
// caller context.
func (l *RedisLimiter) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}
