// v1
// internal/readings/redis.go
package readings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	latestKeyPrefix = "reading:"
	hashKeyPrefix   = "reading:hash:"
)

// RedisStore keeps readings in redis under reading:<token> and
// reading:hash:<leafHash>.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, r Reading, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("readings: encode: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, latestKeyPrefix+r.TokenAddress, b, ttl)
	pipe.Set(ctx, hashKeyPrefix+r.LeafHash, b, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("readings: store: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, tokenAddress string) (*Reading, bool, error) {
	return s.get(ctx, latestKeyPrefix+tokenAddress)
}

func (s *RedisStore) ByLeafHash(ctx context.Context, leafHash string) (*Reading, bool, error) {
	return s.get(ctx, hashKeyPrefix+leafHash)
}

func (s *RedisStore) get(ctx context.Context, key string) (*Reading, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("readings: load: %w", err)
	}
	var r Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, false, fmt.Errorf("readings: decode: %w", err)
	}
	return &r, true, nil
}
