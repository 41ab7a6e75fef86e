package persistence

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store that holds no snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Store persists one encoded snapshot.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// MemoryStore keeps the snapshot in memory.
type MemoryStore struct {
	mu     sync.Mutex
	data   []byte
	writes int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read implements Store.
func (m *MemoryStore) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Writes returns how many times Write was called.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Put replaces the stored bytes without counting a write.
func (m *MemoryStore) Put(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}
