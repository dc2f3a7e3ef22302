// Package vector indexes analyzed articles by embedding and serves semantic,
// hybrid and similar-article search.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DeafMist/market-news-radar/internal/docstore"
)

var (
	// ErrDimensionMismatch means a vector does not match the collection's
	// fixed dimensionality. Changing embedding models requires a reindex.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("vector entry not found")
)

// IndexError reports that the vector backend could not serve a call.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string { return fmt.Sprintf("vector index %s: %v", e.Op, e.Err) }

func (e *IndexError) Unwrap() error { return e.Err }

// Metadata is the searchable projection of a news record.
type Metadata struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	SentimentScore float64    `json:"sentiment_score"`
	Entities       []string   `json:"entities"`
	Topics         []string   `json:"topics"`
	Source         string     `json:"source,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

// Entry is one indexed text with its embedding.
type Entry struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// Hit is a search result. Score is the semantic similarity in [0, 1] for
// plain searches and the combined score for hybrid searches.
type Hit struct {
	Entry    Entry
	Score    float64
	Semantic float64
	Lexical  float64
}

// Store persists entries and answers nearest neighbour queries. Filters use
// document paths such as "metadata.topics".
type Store interface {
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, filters []docstore.Filter) ([]Hit, error)
	Get(ctx context.Context, id string) (Entry, error)
	Dimensions() int
	Close() error
}

// checkDims validates every vector against dims.
func checkDims(dims int, vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: got %d, collection has %d", ErrDimensionMismatch, len(v), dims)
		}
	}
	return nil
}

// similarity maps cosine similarity into [0, 1] the way Elasticsearch scores
// cosine dense_vector fields.
func similarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0.5
	}
	return (1 + dot/(math.Sqrt(na)*math.Sqrt(nb))) / 2
}

// rank scores entries against query, keeps those matching filters and
// returns the best k by descending similarity.
func rank(entries []Entry, query []float32, k int, filters []docstore.Filter) ([]Hit, error) {
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		vec := e.Vector
		e.Vector = nil
		if len(filters) > 0 {
			doc, err := docstore.ToMap(e)
			if err != nil {
				return nil, err
			}
			if !docstore.Match(doc, filters) {
				continue
			}
		}
		s := similarity(query, vec)
		hits = append(hits, Hit{Entry: e, Score: s, Semantic: s})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}
