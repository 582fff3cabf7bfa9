// Package cache provides the fingerprint cache for assistant responses.
// Entries are write-once: PutIfAbsent keeps the first value stored for a
// key so concurrent workers resolving the same fingerprint converge on one
// answer.
package cache

import (
	"context"
	"sync"
)

// Cache is a write-once key/value store. Implementations must make
// PutIfAbsent atomic.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// PutIfAbsent stores value under key only when the key is vacant and
	// reports whether this call stored it.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Close() error
}

// Memory is an in-process Cache for tests and single-node runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *Memory) Close() error { return nil }
