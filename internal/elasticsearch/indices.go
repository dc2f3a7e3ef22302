package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// EnsureIndex creates index with mapping unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context, index string, mapping map[string]any) error {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %s", index, res.Status())
	}

	payload, err := json.Marshal(map[string]any{"mappings": mapping})
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(
		index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg := readError(res)
		// lost a creation race with another service
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", index, msg)
	}

	c.log.Info("index created", slog.String("index", index))
	return nil
}

// VectorDims reads the dims of a dense_vector field from the live mapping.
// It returns 0 when the index or field does not exist.
func (c *Client) VectorDims(ctx context.Context, index, field string) (int, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(index),
	)
	if err != nil {
		return 0, fmt.Errorf("get mapping %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("get mapping %s: %s", index, readError(res))
	}

	var parsed map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
				Dims int    `json:"dims"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode mapping: %w", err)
	}
	for _, m := range parsed {
		if p, ok := m.Mappings.Properties[field]; ok {
			if p.Type != "dense_vector" {
				return 0, errors.New(field + " is not a dense_vector field")
			}
			return p.Dims, nil
		}
	}
	return 0, nil
}

var keyword = map[string]any{"type": "keyword"}

func typed(t string) map[string]any { return map[string]any{"type": t} }

// NewsMapping is the mapping of the News Record index.
func NewsMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":                keyword,
			"title":             typed("text"),
			"content":           typed("text"),
			"processed_content": typed("text"),
			"subject":           keyword,
			"topics":            keyword,
			"summary":           typed("text"),
			"confidence":        typed("float"),
			"model_version":     keyword,
			"published_at":      typed("date"),
			"analyzed_at":       typed("date"),
			"source":            keyword,
			"url":               keyword,
			"sentiment": map[string]any{
				"properties": map[string]any{
					"compound_score":   typed("float"),
					"category":         keyword,
					"positive_aspects": keyword,
					"negative_aspects": keyword,
					"neutral_aspects":  keyword,
				},
			},
			"entities": map[string]any{
				"properties": map[string]any{
					"name":      keyword,
					"type":      keyword,
					"relevance": typed("float"),
					"sentiment": typed("float"),
				},
			},
			"causal_relationships": map[string]any{"type": "object", "enabled": false},
			"metadata":             map[string]any{"type": "object", "enabled": false},
		},
	}
}

// LedgerMapping is the mapping of the deduplication ledger index.
func LedgerMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"url":         keyword,
			"fingerprint": keyword,
			"signature":   map[string]any{"type": "keyword", "index": false},
			"first_seen":  typed("date"),
		},
	}
}

// RelationshipMapping is the mapping of the entity relationship index.
func RelationshipMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":                keyword,
			"entity_a":          keyword,
			"entity_b":          keyword,
			"relationship_type": keyword,
			"strength":          typed("float"),
			"articles":          keyword,
			"created_at":        typed("date"),
			"updated_at":        typed("date"),
		},
	}
}

// VectorMapping is the mapping of the vector index for the given embedding size.
func VectorMapping(dims int) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":   keyword,
			"text": typed("text"),
			"vector": map[string]any{
				"type":       "dense_vector",
				"dims":       dims,
				"index":      true,
				"similarity": "cosine",
			},
			"metadata": map[string]any{
				"properties": map[string]any{
					"id":              keyword,
					"title":           typed("text"),
					"sentiment_score": typed("float"),
					"entities":        keyword,
					"topics":          keyword,
					"source":          keyword,
					"published_at":    typed("date"),
				},
			},
		},
	}
}
