// v1
// internal/readings/memory.go
package readings

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs tests and single-instance runs. TTLs are ignored.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]Reading
	byHash map[string]Reading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest: make(map[string]Reading),
		byHash: make(map[string]Reading),
	}
}

func (s *MemoryStore) Save(_ context.Context, r Reading, _ time.Duration) error {
	s.mu.Lock()
	s.latest[r.TokenAddress] = r
	s.byHash[r.LeafHash] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, tokenAddress string) (*Reading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[tokenAddress]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *MemoryStore) ByLeafHash(_ context.Context, leafHash string) (*Reading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byHash[leafHash]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}
