package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DeafMist/market-news-radar/internal/docstore"
)

// KNNRequest is an approximate nearest neighbour query over a dense_vector field.
type KNNRequest struct {
	Field         string
	Vector        []float32
	K             int
	NumCandidates int
	Filters       []docstore.Filter
}

// ScoredDocument is a search hit with its relevance score.
type ScoredDocument struct {
	ID     string
	Score  float64
	Source json.RawMessage
}

// KNNSearch runs a kNN search, applying filters inside the kNN clause so the
// k results all satisfy them.
func (c *Client) KNNSearch(ctx context.Context, index string, req KNNRequest) ([]ScoredDocument, error) {
	if req.K <= 0 {
		return nil, nil
	}
	num := req.NumCandidates
	if num < req.K {
		num = req.K * 10
	}

	knn := map[string]any{
		"field":          req.Field,
		"query_vector":   req.Vector,
		"k":              req.K,
		"num_candidates": num,
	}
	if len(req.Filters) > 0 {
		knn["filter"] = buildBoolQuery(req.Filters)
	}

	hits, err := c.search(ctx, index, map[string]any{
		"knn":     knn,
		"size":    req.K,
		"_source": map[string]any{"excludes": []string{req.Field}},
	})
	if err != nil {
		if errors.Is(err, errIndexMissing) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]ScoredDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredDocument{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return out, nil
}
