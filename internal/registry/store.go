// v0
// internal/registry/store.go
package registry

import (
	"context"
	"errors"
)

// ErrNotFound reports a lookup or revocation against an unknown device.
var ErrNotFound = errors.New("registry: device not found")

// Store is the device registry contract. Upsert must be atomic per public
// key: concurrent patches for the same device may interleave field-wise
// (last writer wins per field) but never corrupt the record.
type Store interface {
	GetByPublicKey(ctx context.Context, publicKey string) (*Device, error)
	GetByToken(ctx context.Context, tokenAddress string) (*Device, error)
	Upsert(ctx context.Context, publicKey string, p Patch) (*Device, error)
	// ConsumeChallenge clears the stored challenge in one atomic
	// check-and-clear, but only if it still equals provided. It reports
	// whether this caller won the clear; under concurrent consumption of
	// the same nonce exactly one caller sees true.
	ConsumeChallenge(ctx context.Context, publicKey, provided string) (bool, error)
	Revoke(ctx context.Context, tokenAddress string) error
}
