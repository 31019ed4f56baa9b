// Package store persists ciphertext blobs keyed by record id. Frames are
// stored exactly as produced by the cipher (Base64 text); the protector
// makes no further assumptions about record persistence.
package store

import (
	"context"
	"errors"
	"sync"
)

// MetaOwner is the metadata key recording a blob's owner identity.
const MetaOwner = "owner"

// ErrNotFound is returned when no blob exists for a record id.
var ErrNotFound = errors.New("record not found")

// RecordStore is the blob persistence abstraction.
type RecordStore interface {
	// Put stores or overwrites the frame for a record.
	Put(ctx context.Context, recordID, frame string, metadata map[string]string) error

	// Get returns the frame and metadata for a record, or ErrNotFound.
	Get(ctx context.Context, recordID string) (string, map[string]string, error)

	// Delete removes a record's blob. Deleting an absent record is not an
	// error.
	Delete(ctx context.Context, recordID string) error
}

type memoryRecord struct {
	frame    string
	metadata map[string]string
}

// memoryStore is the in-process RecordStore used in tests and the load tool.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() RecordStore {
	return &memoryStore{records: make(map[string]memoryRecord)}
}

func (m *memoryStore) Put(_ context.Context, recordID, frame string, metadata map[string]string) error {
	copied := make(map[string]string, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordID] = memoryRecord{frame: frame, metadata: copied}
	return nil
}

func (m *memoryStore) Get(_ context.Context, recordID string) (string, map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordID]
	if !ok {
		return "", nil, ErrNotFound
	}
	metadata := make(map[string]string, len(rec.metadata))
	for k, v := range rec.metadata {
		metadata[k] = v
	}
	return rec.frame, metadata, nil
}

func (m *memoryStore) Delete(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordID)
	return nil
}
