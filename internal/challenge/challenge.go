// v1
// internal/challenge/challenge.go
// Package challenge issues and consumes the single-use nonces that prove a
// device holds the private key for its registered public key.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/sigcheck"
)

var (
	ErrNoPending        = errors.New("challenge: no pending challenge")
	ErrMismatch         = errors.New("challenge: provided challenge does not match")
	ErrExpired          = errors.New("challenge: expired")
	ErrInvalidSignature = errors.New("challenge: invalid signature")
	ErrRevoked          = errors.New("challenge: device is revoked")
)

const nonceBytes = 32

// Manager drives the per-device NONE -> CHALLENGED -> CONSUMED state machine.
// The state lives on the device record; the manager holds no memory of its
// own, so any gateway replica can consume a challenge another one issued.
type Manager struct {
	reg registry.Store
	ttl time.Duration
	now func() time.Time
}

func NewManager(reg registry.Store, ttl time.Duration) *Manager {
	return &Manager{reg: reg, ttl: ttl, now: time.Now}
}

// Issue generates a fresh 32-byte nonce, binds it to the device record
// (creating the record on first contact) and returns its hex form.
func (m *Manager) Issue(ctx context.Context, publicKey, macAddress string) (string, error) {
	if existing, err := m.reg.GetByPublicKey(ctx, publicKey); err == nil && existing.Revoked {
		return "", ErrRevoked
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: entropy: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	p := registry.Patch{
		Challenge:        registry.StringPtr(nonce),
		ChallengeExpires: registry.Int64Ptr(m.now().Add(m.ttl).Unix()),
	}
	if macAddress != "" {
		p.MACAddress = registry.StringPtr(macAddress)
	}
	if _, err := m.reg.Upsert(ctx, publicKey, p); err != nil {
		return "", fmt.Errorf("challenge: store: %w", err)
	}
	return nonce, nil
}

// Consume validates the signed challenge. The nonce is burned with the
// store's atomic check-and-clear before the cryptographic check runs, so a
// challenge is never verifiable twice even when two callers present it at
// the same time: exactly one wins the clear, the other sees ErrNoPending.
// A mismatched challenge does not burn the pending one. A device that fails
// the crypto check must request a new challenge to retry.
func (m *Manager) Consume(ctx context.Context, publicKey, provided string, sig sigcheck.Signature) error {
	dev, err := m.reg.GetByPublicKey(ctx, publicKey)
	if errors.Is(err, registry.ErrNotFound) {
		return ErrNoPending
	}
	if err != nil {
		return fmt.Errorf("challenge: lookup: %w", err)
	}
	if dev.Revoked {
		return ErrRevoked
	}
	if dev.Challenge == "" {
		return ErrNoPending
	}
	if provided != dev.Challenge {
		return ErrMismatch
	}

	won, err := m.reg.ConsumeChallenge(ctx, publicKey, provided)
	if err != nil {
		return fmt.Errorf("challenge: consume: %w", err)
	}
	if !won {
		// Another caller burned this nonce between our read and the clear.
		return ErrNoPending
	}

	if dev.ChallengeExpires > 0 && m.now().Unix() > dev.ChallengeExpires {
		return ErrExpired
	}

	ok, err := sigcheck.Verify(dev.PublicKey, []byte(provided), sig)
	if err != nil || !ok {
		return ErrInvalidSignature
	}
	return nil
}
