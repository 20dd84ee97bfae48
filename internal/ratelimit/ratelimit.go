// Package ratelimit provides a Redis-backed fixed-window throttle for
// abuse-prone endpoints (login, forgot-password).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter throttles requests per key within a fixed window.
type Limiter interface {
	// Allow records an attempt for the key and reports whether it is
	// within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts attempts in Redis with a fixed-window key TTL.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// NewRedisLimiter creates a fixed-window limiter. The prefix separates
// independent limits (e.g. "login", "forgot") in the same Redis.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		logger: logger,
	}
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("rl:%s:%s", l.prefix, key)
}

// Allow increments the window counter and checks it against the limit.
// Fails open when Redis is unreachable: a broken throttle must not take
// down login for everyone.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter unavailable, failing open",
			slog.String("prefix", l.prefix),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.WarnContext(ctx, "failed to set rate limit window",
				slog.String("prefix", l.prefix),
				slog.String("error", err.Error()),
			)
		}
	}

	return count <= l.limit, nil
}

// NopLimiter always allows. Used when Redis is not configured.
type NopLimiter struct{}

// Allow always reports true.
func (NopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
