package memory

import (
	"context"
	"sync"
	"time"

	"github.com/acme/campaign-dialer/internal/repository"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-process KV store used for development and tests.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

var _ repository.KVStore = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]item), now: time.Now}
}

// SetClock replaces the time source used for expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return nil, repository.ErrNotFound
	}
	if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

// Len reports the number of stored keys, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
