// v1
// internal/merkle/proofstore.go
package merkle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const proofKeyPrefix = "proof:"

// ProofStore indexes inclusion proofs by leaf hash for later retrieval.
type ProofStore interface {
	Save(ctx context.Context, p Proof, ttl time.Duration) error
	Get(ctx context.Context, leafHash string) (*Proof, bool, error)
}

// RedisProofStore keeps proofs in redis with the reading retention TTL.
type RedisProofStore struct {
	client *redis.Client
}

func NewRedisProofStore(client *redis.Client) *RedisProofStore {
	return &RedisProofStore{client: client}
}

func (s *RedisProofStore) Save(ctx context.Context, p Proof, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("merkle: encode proof: %w", err)
	}
	if err := s.client.Set(ctx, proofKeyPrefix+p.LeafHash, b, ttl).Err(); err != nil {
		return fmt.Errorf("merkle: store proof: %w", err)
	}
	return nil
}

func (s *RedisProofStore) Get(ctx context.Context, leafHash string) (*Proof, bool, error) {
	b, err := s.client.Get(ctx, proofKeyPrefix+leafHash).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("merkle: load proof: %w", err)
	}
	var p Proof
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, fmt.Errorf("merkle: decode proof: %w", err)
	}
	return &p, true, nil
}

// MemoryProofStore backs tests and single-instance runs.
type MemoryProofStore struct {
	mu     sync.RWMutex
	proofs map[string]Proof
}

func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{proofs: make(map[string]Proof)}
}

func (s *MemoryProofStore) Save(_ context.Context, p Proof, _ time.Duration) error {
	s.mu.Lock()
	s.proofs[p.LeafHash] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryProofStore) Get(_ context.Context, leafHash string) (*Proof, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[leafHash]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}
