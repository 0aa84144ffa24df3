package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every worker instance.
type RateLimiter struct {
	c      *redis.Client
	prefix string
}

func NewRateLimiter(addr string) *RateLimiter {
	return NewRateLimiterFromClient(redis.NewClient(&redis.Options{Addr: addr}), "")
}

func NewRateLimiterFromClient(c *redis.Client, prefix string) *RateLimiter {
	return &RateLimiter{c: c, prefix: prefix}
}

// Allow increments the key and starts its TTL when the key has none, in one
// transaction. Returns (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	key = rl.prefix + key
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
