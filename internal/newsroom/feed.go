package newsroom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/models"
)

// Feed sort keys.
const (
	SortAnalyzedAt = "analyzed_at"
	SortConfidence = "confidence"
	SortSentiment  = "sentiment"
)

var sortFields = map[string]string{
	SortAnalyzedAt: "analyzed_at",
	SortConfidence: "confidence",
	SortSentiment:  "sentiment.compound_score",
}

// FeedQuery selects News Records for the feed. Zero values mean no filter.
type FeedQuery struct {
	Category  models.SentimentCategory
	Entity    string
	Topic     string
	From      time.Time
	To        time.Time
	SortBy    string
	Direction docstore.Direction
	Limit     int
}

// Filters translates q into document store filters.
func (q FeedQuery) Filters() ([]docstore.Filter, error) {
	var filters []docstore.Filter
	if q.Category != "" {
		cat := models.SentimentCategory(strings.ToLower(string(q.Category)))
		if !cat.Valid() {
			return nil, fmt.Errorf("%w: unknown sentiment category %q", ErrInvalidQuery, q.Category)
		}
		filters = append(filters, docstore.Where("sentiment.category", docstore.OpEq, string(cat)))
	}
	if q.Entity != "" {
		filters = append(filters, docstore.Where("entities.name", docstore.OpArrayContains, q.Entity))
	}
	if q.Topic != "" {
		filters = append(filters, docstore.Where("topics", docstore.OpArrayContains, q.Topic))
	}
	if !q.From.IsZero() {
		filters = append(filters, docstore.Where("published_at", docstore.OpGTE, q.From.UTC()))
	}
	if !q.To.IsZero() {
		filters = append(filters, docstore.Where("published_at", docstore.OpLTE, q.To.UTC()))
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: date range ends before it starts", ErrInvalidQuery)
	}
	return filters, nil
}

// Feed lists News Records matching q, newest analysis first by default.
func (s *Service) Feed(ctx context.Context, q FeedQuery) ([]models.NewsRecord, error) {
	filters, err := q.Filters()
	if err != nil {
		return nil, err
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = SortAnalyzedAt
	}
	field, ok := sortFields[sortBy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort key %q", ErrInvalidQuery, q.SortBy)
	}
	dir := q.Direction
	if dir == "" {
		dir = docstore.Descending
	}

	docs, err := s.store.Query(ctx, s.collection, docstore.Query{
		Filters:   filters,
		OrderBy:   field,
		Direction: dir,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return docstore.DecodeAll[models.NewsRecord](docs)
}
