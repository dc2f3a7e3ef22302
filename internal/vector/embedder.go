package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Embedder turns texts into vectors, one per text and in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CachedEmbedder memoizes embeddings by text hash. Article texts are
// re-embedded when a record is reindexed and when it seeds a similar-articles
// query.
type CachedEmbedder struct {
	next  Embedder
	cache *gocache.Cache
}

// NewCachedEmbedder wraps next with an in-memory cache of the given TTL.
func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{next: next, cache: gocache.New(ttl, 2*ttl)}
}

// Embed implements Embedder. Only the cache misses reach the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey(t)); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, v := range vecs {
		c.cache.SetDefault(cacheKey(missing[j]), v)
		out[slots[j]] = v
	}
	return out, nil
}

func cacheKey(text string) string {
	s := sha256.Sum256([]byte(text))
	return hex.EncodeToString(s[:])
}

// HashEmbedder derives a deterministic unit vector from the text hash. It
// carries no semantics and exists for local runs and tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing dims-sized vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(t))
		seed := float64(h.Sum64() % 1_000_003)

		v := make([]float32, e.dims)
		var sum float64
		for j := range v {
			v[j] = float32(math.Sin(seed*float64(j+1))*0.1 + 0.01)
			sum += float64(v[j]) * float64(v[j])
		}
		if sum > 0 {
			norm := float32(1 / math.Sqrt(sum))
			for j := range v {
				v[j] *= norm
			}
		}
		out[i] = v
	}
	return out, nil
}
