package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/elasticsearch"
)

const vectorField = "vector"

// ElasticStore keeps entries in an Elasticsearch index with a cosine
// dense_vector field and answers queries with approximate kNN.
type ElasticStore struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// NewElasticStore creates the index when missing. An existing index whose
// vector field has other dims is rejected with ErrDimensionMismatch.
func NewElasticStore(ctx context.Context, es *elasticsearch.Client, index string, dims int) (*ElasticStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	existing, err := es.VectorDims(ctx, index, vectorField)
	if err != nil {
		return nil, &IndexError{Op: "open", Err: err}
	}
	if existing != 0 && existing != dims {
		return nil, fmt.Errorf("%w: index %s has %d, embedder produces %d", ErrDimensionMismatch, index, existing, dims)
	}
	if existing == 0 {
		if err := es.EnsureIndex(ctx, index, elasticsearch.VectorMapping(dims)); err != nil {
			return nil, &IndexError{Op: "open", Err: err}
		}
	}
	return &ElasticStore{es: es, index: index, dims: dims}, nil
}

// Upsert implements Store.
func (s *ElasticStore) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := checkDims(s.dims, e.Vector); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := s.es.Save(ctx, s.index, e.ID, e, false); err != nil {
			return &IndexError{Op: "upsert", Err: err}
		}
	}
	return nil
}

// Search implements Store.
func (s *ElasticStore) Search(ctx context.Context, query []float32, k int, filters []docstore.Filter) ([]Hit, error) {
	if err := checkDims(s.dims, query); err != nil {
		return nil, err
	}
	docs, err := s.es.KNNSearch(ctx, s.index, elasticsearch.KNNRequest{
		Field:   vectorField,
		Vector:  query,
		K:       k,
		Filters: filters,
	})
	if err != nil {
		return nil, &IndexError{Op: "search", Err: err}
	}

	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		var e Entry
		if err := json.Unmarshal(d.Source, &e); err != nil {
			return nil, &IndexError{Op: "search", Err: fmt.Errorf("decode hit %s: %w", d.ID, err)}
		}
		if e.ID == "" {
			e.ID = d.ID
		}
		hits = append(hits, Hit{Entry: e, Score: d.Score, Semantic: d.Score})
	}
	return hits, nil
}

// Get implements Store.
func (s *ElasticStore) Get(ctx context.Context, id string) (Entry, error) {
	doc, err := s.es.Get(ctx, s.index, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, &IndexError{Op: "get", Err: err}
	}
	var e Entry
	if err := doc.Decode(&e); err != nil {
		return Entry{}, &IndexError{Op: "get", Err: err}
	}
	return e, nil
}

// Dimensions implements Store.
func (s *ElasticStore) Dimensions() int { return s.dims }

// Close implements Store.
func (s *ElasticStore) Close() error { return nil }
