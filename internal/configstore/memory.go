package configstore

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store for tests and single-node
// development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]RoomConfig
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]RoomConfig)}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (RoomConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.data[key.String()]
	return config, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, key Key, config RoomConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key.String()] = config.Normalize()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
	return nil
}

// Len reports the number of stored configs. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
