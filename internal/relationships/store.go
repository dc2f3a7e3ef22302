// Package relationships merges entity co-occurrence edges in the document store.
package relationships

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
)

// Related is one relationship seen from a given symbol.
type Related struct {
	Symbol           string  `json:"symbol"`
	RelationshipType string  `json:"relationship_type"`
	Strength         float64 `json:"strength"`
	ArticleCount     int     `json:"article_count"`
}

// Store keeps EntityRelationship documents in one collection.
type Store struct {
	docs       docstore.Store
	collection string
	now        func() time.Time
	log        *slog.Logger
}

// New creates a Store over docs.
func New(docs docstore.Store, collection string, log *slog.Logger) *Store {
	return &Store{docs: docs, collection: collection, now: time.Now, log: logger.OrDiscard(log)}
}

// ID derives the relationship id. The pair is unordered so (a, b) and (b, a)
// map to the same document.
func ID(entityA, entityB, relType string) string {
	pair := []string{entityA, entityB}
	sort.Strings(pair)
	s := sha256.Sum256([]byte(pair[0] + "\x00" + pair[1] + "\x00" + relType))
	return hex.EncodeToString(s[:16])
}

// Merge records one observation of the relationship. The latest strength
// wins and articleID joins the set of contributing articles.
func (s *Store) Merge(ctx context.Context, entityA, entityB, relType string, strength float64, articleID string) (models.EntityRelationship, error) {
	if strings.TrimSpace(entityA) == "" || strings.TrimSpace(entityB) == "" {
		return models.EntityRelationship{}, fmt.Errorf("relationship needs two entities")
	}
	id := ID(entityA, entityB, relType)
	now := s.now().UTC()

	rel := models.EntityRelationship{
		ID:               id,
		EntityA:          entityA,
		EntityB:          entityB,
		RelationshipType: relType,
		CreatedAt:        now,
	}

	doc, err := s.docs.Get(ctx, s.collection, id)
	switch {
	case err == nil:
		if err := doc.Decode(&rel); err != nil {
			return models.EntityRelationship{}, err
		}
	case errors.Is(err, docstore.ErrNotFound):
	default:
		return models.EntityRelationship{}, err
	}

	rel.Strength = strength
	rel.Articles = union(rel.Articles, articleID)
	rel.UpdatedAt = now

	if err := s.docs.Save(ctx, s.collection, id, rel, false); err != nil {
		return models.EntityRelationship{}, err
	}

	s.log.Debug("relationship merged",
		slog.String("id", id),
		slog.String("entity_a", rel.EntityA),
		slog.String("entity_b", rel.EntityB),
		slog.Int("articles", len(rel.Articles)),
	)
	return rel, nil
}

// Related returns up to limit relationships of symbol from either side,
// strongest first.
func (s *Store) Related(ctx context.Context, symbol string, limit int) ([]Related, error) {
	var rels []models.EntityRelationship
	seen := make(map[string]struct{})
	for _, field := range []string{"entity_a", "entity_b"} {
		docs, err := s.docs.Query(ctx, s.collection, docstore.Query{
			Filters: []docstore.Filter{docstore.Where(field, docstore.OpEq, symbol)},
		})
		if err != nil {
			return nil, err
		}
		found, err := docstore.DecodeAll[models.EntityRelationship](docs)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			rels = append(rels, r)
		}
	}

	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Strength > rels[j].Strength })
	if limit > 0 && len(rels) > limit {
		rels = rels[:limit]
	}

	out := make([]Related, 0, len(rels))
	for _, r := range rels {
		other := r.EntityB
		if other == symbol {
			other = r.EntityA
		}
		out = append(out, Related{
			Symbol:           other,
			RelationshipType: r.RelationshipType,
			Strength:         r.Strength,
			ArticleCount:     len(r.Articles),
		})
	}
	return out, nil
}

func union(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
