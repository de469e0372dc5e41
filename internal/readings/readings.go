// v1
// internal/readings/readings.go

// Package readings stores the latest accepted telemetry per device and
// an index from leaf hash to the raw canonical payload, both with the
// configured retention TTL.
package readings

import (
	"context"
	"time"
)

// Reading is one accepted telemetry submission.
type Reading struct {
	TokenAddress string    `json:"tokenAddress"`
	LeafHash     string    `json:"leafHash"`
	Canonical    []byte    `json:"canonical"`
	Timestamp    int64     `json:"timestamp"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// Store persists accepted readings.
type Store interface {
	Save(ctx context.Context, r Reading, ttl time.Duration) error
	Latest(ctx context.Context, tokenAddress string) (*Reading, bool, error)
	ByLeafHash(ctx context.Context, leafHash string) (*Reading, bool, error)
}
