package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// DefaultAlpha weighs semantic and lexical scores equally.
const DefaultAlpha = 0.5

const metadataPrefix = "metadata."

// Similar is one entry of a similar-articles answer.
type Similar struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Index embeds texts into a Store and ranks them for queries.
type Index struct {
	store    Store
	embedder Embedder
	log      *slog.Logger
}

// NewIndex creates an Index over store.
func NewIndex(store Store, embedder Embedder, log *slog.Logger) *Index {
	return &Index{store: store, embedder: embedder, log: logger.OrDiscard(log)}
}

// Add indexes the searchable projection of rec.
func (x *Index) Add(ctx context.Context, rec *models.NewsRecord) error {
	text := rec.ProcessedContent
	if strings.TrimSpace(text) == "" {
		text = rec.Content
	}
	return x.AddTexts(ctx, []string{text}, []Metadata{{
		ID:             rec.ID,
		Title:          rec.Title,
		SentimentScore: rec.Sentiment.CompoundScore,
		Entities:       rec.EntityNames(),
		Topics:         rec.Topics,
		Source:         rec.Source,
		PublishedAt:    rec.PublishedAt,
	}})
}

// AddTexts embeds texts and stores them with their metadata. An entry
// without a metadata id is keyed by the hash of its text.
func (x *Index) AddTexts(ctx context.Context, texts []string, metas []Metadata) error {
	if len(texts) != len(metas) {
		return fmt.Errorf("got %d texts and %d metadata entries", len(texts), len(metas))
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return &IndexError{Op: "embed", Err: err}
	}
	if len(vecs) != len(texts) {
		return &IndexError{Op: "embed", Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))}
	}

	entries := make([]Entry, len(texts))
	for i, t := range texts {
		meta := metas[i]
		if meta.ID == "" {
			meta.ID = processing.ContentID(t)
		}
		entries[i] = Entry{ID: meta.ID, Text: t, Vector: vecs[i], Metadata: meta}
	}
	return x.store.Upsert(ctx, entries)
}

// Get returns the stored entry for id.
func (x *Index) Get(ctx context.Context, id string) (Entry, error) {
	return x.store.Get(ctx, id)
}

// SimilaritySearch returns the k entries nearest to query. Filter fields
// name metadata keys such as "topics" or "sentiment_score".
func (x *Index) SimilaritySearch(ctx context.Context, query string, k int, filters []docstore.Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := x.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	return x.store.Search(ctx, vec, k, qualify(filters))
}

// HybridSearch ranks 2k semantic candidates by
// alpha*semantic + (1-alpha)*lexical after min-max normalizing both scores.
// Any failure along the way falls back to SimilaritySearch.
func (x *Index) HybridSearch(ctx context.Context, query string, filters []docstore.Filter, k int, alpha float64) ([]Hit, error) {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("alpha must be in [0, 1], got %v", alpha)
	}
	if k <= 0 {
		return nil, nil
	}

	hits, err := x.hybrid(ctx, query, filters, k, alpha)
	if err == nil {
		return hits, nil
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return nil, err
	}
	x.log.Warn("hybrid search failed, falling back to semantic search",
		slog.String("query", query),
		slog.Any("err", err),
	)
	return x.SimilaritySearch(ctx, query, k, filters)
}

func (x *Index) hybrid(ctx context.Context, query string, filters []docstore.Filter, k int, alpha float64) ([]Hit, error) {
	vec, err := x.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	cands, err := x.store.Search(ctx, vec, 2*k, qualify(filters))
	if err != nil {
		return nil, err
	}

	terms := uniqueTerms(query)
	semantic := make([]float64, len(cands))
	lexical := make([]float64, len(cands))
	for i, c := range cands {
		semantic[i] = c.Semantic
		lexical[i] = lexicalScore(terms, c.Entry.Text)
	}
	semantic = minMax(semantic)
	lexical = minMax(lexical)

	out := make([]Hit, len(cands))
	for i, c := range cands {
		score := alpha*semantic[i] + (1-alpha)*lexical[i]
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("non-finite score for %s", c.Entry.ID)
		}
		out[i] = Hit{Entry: c.Entry, Score: score, Semantic: c.Semantic, Lexical: lexical[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// SimilarArticles re-queries the index with the stored text of id and
// returns up to k other entries by descending similarity.
func (x *Index) SimilarArticles(ctx context.Context, id string, k int) ([]Similar, error) {
	if k <= 0 {
		return nil, nil
	}
	src, err := x.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	vec, err := x.embedOne(ctx, src.Text)
	if err != nil {
		return nil, err
	}
	hits, err := x.store.Search(ctx, vec, k+1, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Similar, 0, k)
	for _, h := range hits {
		if h.Entry.ID == id {
			continue
		}
		title := h.Entry.Metadata.Title
		out = append(out, Similar{ID: h.Entry.ID, Title: title, Similarity: h.Semantic})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (x *Index) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, &IndexError{Op: "embed", Err: err}
	}
	if len(vecs) != 1 {
		return nil, &IndexError{Op: "embed", Err: fmt.Errorf("got %d vectors for 1 text", len(vecs))}
	}
	return vecs[0], nil
}

func qualify(filters []docstore.Filter) []docstore.Filter {
	if len(filters) == 0 {
		return nil
	}
	out := make([]docstore.Filter, len(filters))
	for i, f := range filters {
		if !strings.HasPrefix(f.Field, metadataPrefix) {
			f.Field = metadataPrefix + f.Field
		}
		out[i] = f
	}
	return out
}

func uniqueTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range processing.Tokenize(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// lexicalScore is the fraction of terms present in text, divided by the
// token length of text.
func lexicalScore(terms []string, text string) float64 {
	tokens := processing.Tokenize(text)
	if len(terms) == 0 || len(tokens) == 0 {
		return 0
	}
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(terms)) / float64(len(tokens))
}

// minMax rescales scores into [0, 1]. When all scores are equal every entry
// becomes 1.
func minMax(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
