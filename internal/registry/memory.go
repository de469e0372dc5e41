// v1
// internal/registry/memory.go
package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps devices in process memory. It backs local runs and tests;
// production deployments use the postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device // by public key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*Device)}
}

func (s *MemoryStore) GetByPublicKey(_ context.Context, publicKey string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[publicKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetByToken(_ context.Context, tokenAddress string) (*Device, error) {
	if tokenAddress == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.TokenAddress == tokenAddress {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, publicKey string, p Patch) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[publicKey]
	if !ok {
		d = &Device{PublicKey: publicKey}
		s.devices[publicKey] = d
	}
	applyPatch(d, p)
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ConsumeChallenge(_ context.Context, publicKey, provided string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[publicKey]
	if !ok || provided == "" || d.Challenge != provided {
		return false, nil
	}
	d.Challenge = ""
	d.ChallengeExpires = 0
	return true, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.TokenAddress == tokenAddress {
			d.Revoked = true
			return nil
		}
	}
	return ErrNotFound
}

func applyPatch(d *Device, p Patch) {
	if p.MACAddress != nil {
		d.MACAddress = *p.MACAddress
	}
	if p.TokenAddress != nil {
		d.TokenAddress = *p.TokenAddress
	}
	if p.LastTxRef != nil {
		d.LastTxRef = *p.LastTxRef
	}
	if p.OwnerAddress != nil {
		d.OwnerAddress = *p.OwnerAddress
	}
	if p.LastSeen != nil {
		d.LastSeen = *p.LastSeen
	}
	if p.Revoked != nil {
		d.Revoked = *p.Revoked
	}
	if p.Challenge != nil {
		d.Challenge = *p.Challenge
	}
	if p.ChallengeExpires != nil {
		d.ChallengeExpires = *p.ChallengeExpires
	}
}
