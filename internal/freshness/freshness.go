// v0
// internal/freshness/freshness.go
// Package freshness rejects telemetry that is stale, from the future, or a
// replay of an already-accepted reading.
package freshness

import (
	"errors"
	"time"
)

var (
	ErrTooOld    = errors.New("freshness: reading too old")
	ErrTooFuture = errors.New("freshness: timestamp in the future")
	ErrReplay    = errors.New("freshness: replay detected")
)

// Policy bounds the accepted timestamp window.
type Policy struct {
	MaxAge          time.Duration // oldest accepted reading, e.g. 300s
	FutureTolerance time.Duration // clock skew allowance, e.g. 60s
}

func DefaultPolicy() Policy {
	return Policy{MaxAge: 5 * time.Minute, FutureTolerance: time.Minute}
}

// Check validates a submission timestamp (unix seconds) against the wall
// clock and the device's last accepted timestamp (0 = never). It does not
// persist anything: the caller must durably advance lastSeen to ts before
// acknowledging success, which is what closes the replay window.
func (p Policy) Check(now time.Time, ts, lastSeen int64) error {
	age := now.Unix() - ts
	if age > int64(p.MaxAge/time.Second) {
		return ErrTooOld
	}
	if -age > int64(p.FutureTolerance/time.Second) {
		return ErrTooFuture
	}
	if lastSeen > 0 && ts <= lastSeen {
		return ErrReplay
	}
	return nil
}
