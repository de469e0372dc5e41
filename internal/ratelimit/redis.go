// v1
// internal/ratelimit/redis.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate_limit:"

// RedisLimiter backs the lock with redis SET NX + TTL, so the window is
// shared across gateway replicas.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: exists: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLimiter) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: setnx: %w", err)
	}
	return ok, nil
}
