package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/acme/campaign-dialer/internal/repository"
)

// Store keeps orchestrator state in redis so several API instances can
// share sessions across restarts.
type Store struct {
	client goredis.UniversalClient
}

var _ repository.KVStore = (*Store)(nil)

// NewStore wraps an existing redis client.
func NewStore(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// Get reads a value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get %s: %w", key, err)
	}
	return val, nil
}

// Set writes a value; redis expires it after ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis store: delete: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the container.
func (s *Store) Close() error {
	return nil
}
