package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. It backs tests and offline CLI runs.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]map[string]any)}
}

// Save implements Store. Merge performs a deep merge of nested objects.
func (m *Memory) Save(_ context.Context, collection, id string, record any, merge bool) error {
	doc, err := ToMap(record)
	if err != nil {
		return &StorageError{Op: "save", Collection: collection, ID: id, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}
	if existing, ok := coll[id]; ok && merge {
		deepMerge(existing, doc)
		return nil
	}
	coll[id] = doc
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return toDocument(id, doc)
}

// Query implements Store.
func (m *Memory) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, &StorageError{Op: "query", Collection: collection, Err: err}
	}

	m.mu.RLock()
	type row struct {
		id  string
		doc map[string]any
	}
	rows := make([]row, 0, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		if Match(doc, q.Filters) {
			rows = append(rows, row{id: id, doc: doc})
		}
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			c := CompareField(rows[i].doc, rows[j].doc, q.OrderBy)
			if q.Direction == Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		d, err := toDocument(r.id, r.doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

// Len returns the number of documents in collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func toDocument(id string, doc map[string]any) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("encode document %s: %w", id, err)
	}
	return Document{ID: id, Data: data}, nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}
