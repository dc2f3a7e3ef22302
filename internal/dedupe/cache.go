package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

type windowItem struct {
	ts        time.Time
	signature Signature
}

// Window keeps a fixed-size set of recently registered fingerprints and their
// MinHash signatures. Near-duplicate checks only ever scan this window.
type Window struct {
	mu       sync.Mutex
	items    map[string]windowItem
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewWindow creates a window with the provided capacity and ttl.
func NewWindow(capacity int, ttl time.Duration) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Window{
		items:    make(map[string]windowItem, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Contains returns true when the fingerprint is inside the ttl window.
func (w *Window) Contains(fingerprint string) bool {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if it, ok := w.items[fingerprint]; ok {
		return now.Sub(it.ts) <= w.ttl
	}
	return false
}

// Add records a fingerprint seen at ts.
func (w *Window) Add(fingerprint string, sig Signature, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items[fingerprint] = windowItem{ts: ts, signature: sig}
	w.order = append(w.order, entry{key: fingerprint, ts: ts})
	w.compact(w.now())
}

// Remove drops fingerprint from the window.
func (w *Window) Remove(fingerprint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items, fingerprint)
}

// Nearest returns the fingerprint in the window whose signature is most similar to sig.
func (w *Window) Nearest(sig Signature) (string, float64) {
	if len(sig) == 0 {
		return "", 0
	}
	cutoff := w.now().Add(-w.ttl)

	w.mu.Lock()
	defer w.mu.Unlock()

	best, bestScore := "", 0.0
	for key, it := range w.items {
		if it.ts.Before(cutoff) {
			continue
		}
		if s := sig.Similarity(it.signature); s > bestScore {
			best, bestScore = key, s
		}
	}
	return best, bestScore
}

// Len returns the number of fingerprints currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func (w *Window) compact(now time.Time) {
	cutoff := now.Add(-w.ttl)

	for len(w.order) > 0 && (len(w.items) > w.capacity || w.order[0].ts.Before(cutoff)) {
		oldest := w.order[0]
		w.order = w.order[1:]

		if it, ok := w.items[oldest.key]; ok && it.ts.Equal(oldest.ts) {
			delete(w.items, oldest.key)
		}
	}
}
