package auth

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface,
// intended for configuration-file provisioned keys.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewMemoryStore initialises the store with the provided seed keys.
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{keys: make(map[string]*Key, len(seeds))}
	for _, seed := range seeds {
		hash := strings.ToLower(strings.TrimSpace(seed.Hash))
		if hash == "" {
			return nil, ErrEmptySeedKey
		}
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			name = "key-" + hash[:8]
		}
		store.keys[hash] = &Key{Name: name, Hash: hash, Disabled: seed.Disabled}
	}
	return store, nil
}

// LookupKey retrieves the key record by its digest.
func (s *MemoryStore) LookupKey(_ context.Context, hash string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[strings.ToLower(strings.TrimSpace(hash))]; ok {
		return key.Clone(), nil
	}
	return nil, ErrKeyNotFound
}

var _ Store = (*MemoryStore)(nil)
