package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/newsroom"
	"github.com/DeafMist/market-news-radar/internal/relationships"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

const (
	newsCollection = "news_analysis"
	relCollection  = "entity_relationships"
)

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

type brokenStore struct{ docstore.Store }

func (brokenStore) Query(_ context.Context, collection string, _ docstore.Query) ([]docstore.Document, error) {
	return nil, &docstore.StorageError{Op: "query", Collection: collection, Err: errors.New("cluster red")}
}

type fixture struct {
	srv  *server
	docs *docstore.Memory
	idx  *vector.Index
	rels *relationships.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := docstore.NewMemory()
	vs, err := vector.NewMemoryStore(32)
	require.NoError(t, err)
	idx := vector.NewIndex(vs, vector.NewHashEmbedder(32), nil)
	rels := relationships.New(docs, relCollection, nil)
	return &fixture{
		srv:  newServer(docs, idx, rels),
		docs: docs,
		idx:  idx,
		rels: rels,
	}
}

func newServer(docs docstore.Store, idx *vector.Index, rels *relationships.Store) *server {
	news := newsroom.New(newsroom.Deps{
		Store:      docs,
		Collection: newsCollection,
		Index:      idx,
		Relations:  rels,
	}, nil)
	return &server{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:  &config.API{DefaultPage: 20, MaxPage: 100},
		es:   stubHealth{},
		news: news,
	}
}

func (f *fixture) store(t *testing.T, rec models.NewsRecord, indexed bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.docs.Save(ctx, newsCollection, rec.ID, rec, false))
	if indexed {
		require.NoError(t, f.idx.Add(ctx, &rec))
	}
}

func record(id, title string, cat models.SentimentCategory, analyzed time.Time) models.NewsRecord {
	return models.NewsRecord{
		ID:         id,
		Title:      title,
		Content:    title + " body text",
		Summary:    title + " summary",
		Sentiment:  models.Sentiment{Category: cat, CompoundScore: 0.4},
		Topics:     []string{"Earnings"},
		Source:     "newsapi",
		AnalyzedAt: analyzed,
	}
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/health", nil))

	f.srv.es = stubHealth{err: errors.New("red")}
	var body errorResponse
	require.Equal(t, http.StatusServiceUnavailable, get(t, f.srv.routes(), "/health", &body))
	require.Equal(t, "red", body.Error)
}

func TestFeedFiltersAndSorts(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store(t, record("a", "first", models.SentimentPositive, base), false)
	f.store(t, record("b", "second", models.SentimentNegative, base.Add(time.Hour)), false)
	f.store(t, record("c", "third", models.SentimentPositive, base.Add(2*time.Hour)), false)

	var got list[models.NewsRecord]
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/news?category=positive", &got))
	require.Equal(t, 2, got.Count)
	require.Equal(t, "c", got.Items[0].ID)
	require.Equal(t, "a", got.Items[1].ID)

	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/news?direction=asc&size=2", &got))
	require.Equal(t, 2, got.Count)
	require.Equal(t, "a", got.Items[0].ID)
	require.Equal(t, "b", got.Items[1].ID)
}

func TestFeedEmptyIsList(t *testing.T) {
	f := newFixture(t)
	var got list[models.NewsRecord]
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/news", &got))
	require.NotNil(t, got.Items)
	require.Zero(t, got.Count)
}

func TestFeedRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/news?category=bullish",
		"/api/news?direction=sideways",
		"/api/news?sort=popularity",
		"/api/news?start=2026-03-02&end=2026-03-01",
	} {
		var body errorResponse
		require.Equal(t, http.StatusBadRequest, get(t, f.srv.routes(), target, &body), target)
		require.NotEmpty(t, body.Error)
	}
}

func TestFeedStorageFailure(t *testing.T) {
	f := newFixture(t)
	srv := newServer(brokenStore{f.docs}, f.idx, f.rels)
	var body errorResponse
	require.Equal(t, http.StatusServiceUnavailable, get(t, srv.routes(), "/api/news", &body))
	require.Contains(t, body.Error, "cluster red")
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.store(t, record("a", "tesla earnings beat", models.SentimentPositive, now), true)
	f.store(t, record("b", "tesla deliveries slow", models.SentimentNegative, now), true)

	var d newsroom.Detail
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/news/a", &d))
	require.Equal(t, "a", d.Record.ID)
	require.Len(t, d.Similar, 1)
	require.Equal(t, "b", d.Similar[0].ID)

	var body errorResponse
	require.Equal(t, http.StatusNotFound, get(t, f.srv.routes(), "/api/news/missing", &body))
	require.NotEmpty(t, body.Error)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.store(t, record("a", "tesla earnings beat", models.SentimentPositive, now), true)
	f.store(t, record("b", "fed holds rates", models.SentimentNeutral, now), true)

	// indexed but not yet readable from the document store
	pending := record("c", "tesla recall", models.SentimentNegative, now)
	require.NoError(t, f.idx.Add(context.Background(), &pending))

	var got list[newsroom.SearchResult]
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/search?q=tesla&alpha=0.3", &got))
	require.Equal(t, 3, got.Count)

	partial := map[string]bool{}
	for _, r := range got.Items {
		partial[r.ID] = r.Partial
	}
	require.Equal(t, map[string]bool{"a": false, "b": false, "c": true}, partial)

	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/search?q=tesla&limit=1", &got))
	require.Equal(t, 1, got.Count)
}

func TestSearchRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/search",
		"/api/search?q=tesla&alpha=abc",
		"/api/search?q=tesla&alpha=1.5",
	} {
		var body errorResponse
		require.Equal(t, http.StatusBadRequest, get(t, f.srv.routes(), target, &body), target)
	}
}

func TestRelated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rels.Merge(ctx, "TSLA", "NVDA", "co-mentioned", 0.4, "a1")
	require.NoError(t, err)
	_, err = f.rels.Merge(ctx, "RIVN", "TSLA", "competitor", 0.9, "a2")
	require.NoError(t, err)

	var got list[relationships.Related]
	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/related/TSLA", &got))
	require.Equal(t, 2, got.Count)
	require.Equal(t, "RIVN", got.Items[0].Symbol)
	require.Equal(t, "NVDA", got.Items[1].Symbol)

	require.Equal(t, http.StatusOK, get(t, f.srv.routes(), "/api/related/TSLA?limit=1", &got))
	require.Equal(t, 1, got.Count)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 20, clampInt("", 20, 100))
	require.Equal(t, 20, clampInt("abc", 20, 100))
	require.Equal(t, 20, clampInt("-3", 20, 100))
	require.Equal(t, 100, clampInt("500", 20, 100))
	require.Equal(t, 7, clampInt("7", 20, 100))
}

func TestParseTime(t *testing.T) {
	require.Nil(t, parseTime(""))
	require.Nil(t, parseTime("yesterday"))
	ts := parseTime("2026-03-01")
	require.NotNil(t, ts)
	require.Equal(t, 2026, ts.Year())
	require.NotNil(t, parseTime("2026-03-01T10:00:00Z"))
}

func TestParseCSV(t *testing.T) {
	require.Nil(t, parseCSV(""))
	require.Equal(t, []string{"a", "b"}, parseCSV(" a, ,b "))
}
