package dedup

import (
	"context"
	"sync"
)

// Index maps content hashes to the archive entry that recorded them.
// Entries are append-only.
type Index interface {
	// Lookup returns the archive reference for hash, if any.
	Lookup(ctx context.Context, hash string) (ref string, found bool, err error)
	// Add records hash. An existing entry is left untouched.
	Add(ctx context.Context, hash, ref string) error
	// Len returns the number of indexed hashes.
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryIndex is an Index rebuilt from the archive on every start.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]string)}
}

func (m *MemoryIndex) Lookup(_ context.Context, hash string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.entries[hash]
	return ref, ok, nil
}

func (m *MemoryIndex) Add(_ context.Context, hash, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[hash]; !ok {
		m.entries[hash] = ref
	}
	return nil
}

func (m *MemoryIndex) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Close() error { return nil }
