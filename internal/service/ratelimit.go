package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRateLimited = errors.New("rate limited")

// RateLimiter is a fixed-window request counter per key.
type RateLimiter interface {
	// Allow counts one request for key and returns ErrRateLimited with the
	// time until the window resets when the limit is exceeded.
	Allow(ctx context.Context, key string) (time.Duration, error)
}

type redisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &redisRateLimiter{client: client, limit: limit, window: window, prefix: "atelier:ratelimit:"}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	k := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit %s: %w", key, err)
	}

	if incr.Val() > int64(l.limit) {
		retry := ttl.Val()
		if retry <= 0 {
			retry = l.window
		}
		return retry, ErrRateLimited
	}
	return 0, nil
}
