package memory

import (
	"context"
	"maps"
	"sync"
)

// Store is the session key/value memory. Keys are case-preserving; tools are
// told to use lowercase_with_underscores but nothing enforces it.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Snapshot(ctx context.Context) (map[string]string, error)
	Clear(ctx context.Context) error
}

// InMemoryStore is the default process-local store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]string)}
}

func (s *InMemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *InMemoryStore) Snapshot(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entries), nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return nil
}
