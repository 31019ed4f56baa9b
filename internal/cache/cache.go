// Package cache holds derived content keys for the lifetime of a session.
// A present entry is always usable without a network round trip; absence
// triggers key acquisition. Entries have no TTL and are cleared in bulk on
// logout or key rotation.
package cache

import (
	"context"
	"sync"
)

// KeyStore is the persistent key-value abstraction backing the key cache.
// Keys are scope composite keys, values are raw derived key bytes. No
// transactional guarantees are required; last-writer-wins is acceptable
// because derivation is idempotent per scope.
type KeyStore interface {
	// Get returns the cached key for the composite key, or found=false.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores or overwrites the cached key.
	Set(ctx context.Context, key string, value []byte) error

	// Clear empties the cache. Used on logout and key rotation.
	Clear(ctx context.Context) error
}

// memoryStore is the in-process KeyStore used when no external store is
// configured, and in tests.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() KeyStore {
	return &memoryStore{entries: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = stored
	return nil
}

func (m *memoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	return nil
}
