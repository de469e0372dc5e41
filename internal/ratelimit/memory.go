// v0
// internal/ratelimit/memory.go
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter mirrors the redis semantics in process memory for tests and
// single-instance runs.
type MemoryLimiter struct {
	mu    sync.Mutex
	locks map[string]time.Time // expiry per key
	now   func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{locks: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Held(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.locks[key]
	if !ok {
		return false, nil
	}
	if l.now().After(exp) {
		delete(l.locks, key)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLimiter) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.locks[key]; ok && !l.now().After(exp) {
		return false, nil
	}
	l.locks[key] = l.now().Add(window)
	return true, nil
}
