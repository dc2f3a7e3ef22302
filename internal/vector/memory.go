package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/DeafMist/market-news-radar/internal/docstore"
)

// MemoryStore is a brute-force in-process store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	order   []string
	entries map[string]Entry
}

// NewMemoryStore creates an empty store of the given dimensionality.
func NewMemoryStore(dims int) (*MemoryStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{dims: dims, entries: make(map[string]Entry)}, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := checkDims(m.dims, e.Vector); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		e.Vector = vec
		if _, ok := m.entries[e.ID]; !ok {
			m.order = append(m.order, e.ID)
		}
		m.entries[e.ID] = e
	}
	return nil
}

// Search implements Store.
func (m *MemoryStore) Search(_ context.Context, query []float32, k int, filters []docstore.Filter) ([]Hit, error) {
	if err := checkDims(m.dims, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	all := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.entries[id])
	}
	m.mu.RUnlock()
	return rank(all, query, k, filters)
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Dimensions implements Store.
func (m *MemoryStore) Dimensions() int { return m.dims }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
