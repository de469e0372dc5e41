// v1
// internal/ratelimit/ratelimit.go
// Package ratelimit enforces the minimum inter-submission interval per
// device identity with a time-windowed lock.
package ratelimit

import (
	"context"
	"time"
)

// Limiter is the lock contract. Acquire is an atomic set-if-absent with
// expiry: exactly one of several concurrent callers for the same key wins.
// Held is a cheap probe used for the pipeline's early rejection; it never
// extends an existing lock.
type Limiter interface {
	Held(ctx context.Context, key string) (bool, error)
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}
