package newsroom_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/market-news-radar/internal/aggregator"
	"github.com/DeafMist/market-news-radar/internal/analysis"
	"github.com/DeafMist/market-news-radar/internal/dedupe"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/newsroom"
	"github.com/DeafMist/market-news-radar/internal/relationships"
	"github.com/DeafMist/market-news-radar/internal/sources"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

const collection = "news_analysis"

type stubCollector struct {
	arts     []models.CandidateArticle
	limit    int
	released []models.CandidateArticle
}

func (s *stubCollector) GetNews(_ context.Context, _ string, limit int) []models.CandidateArticle {
	s.limit = limit
	if limit > 0 && len(s.arts) > limit {
		return s.arts[:limit]
	}
	return s.arts
}

func (s *stubCollector) Release(_ context.Context, arts []models.CandidateArticle) error {
	s.released = append(s.released, arts...)
	return nil
}

type stubFetcher struct{ items []models.CandidateArticle }

func (stubFetcher) Name() string { return "stub" }

func (f stubFetcher) Fetch(context.Context, string) []models.CandidateArticle { return f.items }

type stubAnalyzer struct {
	errs  map[string]error
	calls int
}

func (s *stubAnalyzer) Analyze(_ context.Context, art models.CandidateArticle) (*models.NewsRecord, error) {
	s.calls++
	if err := s.errs[art.URL]; err != nil {
		return nil, err
	}
	return &models.NewsRecord{ID: art.URL, Title: art.Title}, nil
}

type stubSearcher struct {
	hits       []vector.Hit
	similar    []vector.Similar
	similarErr error
	gotAlpha   float64
	gotK       int
}

func (s *stubSearcher) HybridSearch(_ context.Context, _ string, _ []docstore.Filter, k int, alpha float64) ([]vector.Hit, error) {
	s.gotK, s.gotAlpha = k, alpha
	return s.hits, nil
}

func (s *stubSearcher) SimilarArticles(context.Context, string, int) ([]vector.Similar, error) {
	return s.similar, s.similarErr
}

func save(t *testing.T, docs docstore.Store, rec models.NewsRecord) {
	t.Helper()
	require.NoError(t, docs.Save(context.Background(), collection, rec.ID, rec, false))
}

func TestAnalyzeSymbolSkipsRejectedArticles(t *testing.T) {
	arts := []models.CandidateArticle{
		{Title: "one", URL: "u1"},
		{Title: "spam", URL: "u2"},
		{Title: "three", URL: "u3"},
		{Title: "four", URL: "u4"},
	}
	an := &stubAnalyzer{errs: map[string]error{
		"u2": &analysis.ParseError{Kind: analysis.KindInvalidArticle, Raw: `{"valid": false}`},
	}}
	col := &stubCollector{arts: arts}
	svc := newsroom.New(newsroom.Deps{Collector: col, Analyzer: an}, nil)

	report, err := svc.AnalyzeSymbol(context.Background(), "TSLA", 3)
	require.NoError(t, err)
	require.Equal(t, 3, col.limit)
	require.Equal(t, 3, report.Fetched)
	require.Len(t, report.Records, 2)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "u2", report.Failures[0].URL)
	require.Equal(t, string(analysis.KindInvalidArticle), report.Failures[0].Kind)
	require.Equal(t, 3, an.calls)
}

func TestAnalyzeSymbolStopsOnInfrastructureError(t *testing.T) {
	arts := []models.CandidateArticle{{URL: "u1"}, {URL: "u2"}, {URL: "u3"}}
	storageErr := &docstore.StorageError{Op: "save", Collection: collection, Err: errors.New("refused")}
	an := &stubAnalyzer{errs: map[string]error{"u2": storageErr}}
	col := &stubCollector{arts: arts}
	svc := newsroom.New(newsroom.Deps{Collector: col, Analyzer: an}, nil)

	report, err := svc.AnalyzeSymbol(context.Background(), "TSLA", 0)
	var se *docstore.StorageError
	require.ErrorAs(t, err, &se)
	require.Len(t, report.Records, 1)
	require.Equal(t, 2, an.calls)
	require.Equal(t, []models.CandidateArticle{{URL: "u2"}, {URL: "u3"}}, col.released)
}

func TestAnalyzeSymbolMaxLeavesRestForLaterRuns(t *testing.T) {
	ctx := context.Background()
	ledgerDocs := docstore.NewMemory()
	ledger := dedupe.NewLedger(ledgerDocs, dedupe.LedgerConfig{Collection: "news_ledger"}, nil)
	fetcher := stubFetcher{items: []models.CandidateArticle{
		{Title: "Tesla deliveries beat", Content: "Tesla delivered more vehicles than analysts expected this quarter", URL: "https://news.example.com/deliveries", PublishedAt: "2026-10-14T12:00:00Z"},
		{Title: "Tesla opens factory", Content: "A new gigafactory near Berlin started production of battery packs", URL: "https://news.example.com/factory", PublishedAt: "2026-10-13T12:00:00Z"},
		{Title: "Tesla recall", Content: "Regulators announced a software recall covering older sedans", URL: "https://news.example.com/recall", PublishedAt: "2026-10-12T12:00:00Z"},
	}}
	agg := aggregator.New([]sources.Fetcher{fetcher}, ledger, aggregator.Options{Budget: 10}, nil)
	an := &stubAnalyzer{}
	svc := newsroom.New(newsroom.Deps{Collector: agg, Analyzer: an}, nil)

	want := []string{
		"https://news.example.com/deliveries",
		"https://news.example.com/factory",
		"https://news.example.com/recall",
	}
	for i, url := range want {
		report, err := svc.AnalyzeSymbol(ctx, "TSLA", 1)
		require.NoError(t, err)
		require.Len(t, report.Records, 1, "run %d", i+1)
		require.Equal(t, url, report.Records[0].ID)
		require.Equal(t, i+1, ledgerDocs.Len("news_ledger"))
	}
	require.Equal(t, 3, an.calls)

	report, err := svc.AnalyzeSymbol(ctx, "TSLA", 1)
	require.NoError(t, err)
	require.Empty(t, report.Records)
}

func TestSearchFallsBackToVectorMetadata(t *testing.T) {
	docs := docstore.NewMemory()
	save(t, docs, models.NewsRecord{
		ID: "stored", Title: "Fed holds rates", Summary: "The Fed held.", Source: "Reuters",
		Sentiment: models.Sentiment{CompoundScore: -0.2, Category: models.SentimentNegative},
	})

	long := strings.Repeat("a", 250)
	searcher := &stubSearcher{hits: []vector.Hit{
		{Entry: vector.Entry{ID: "stored"}, Score: 0.9},
		{Entry: vector.Entry{ID: "pending", Text: long, Metadata: vector.Metadata{
			ID: "pending", Title: "Oil slides", SentimentScore: 0.4, Source: "Bloomberg",
		}}, Score: 0.7},
	}}
	svc := newsroom.New(newsroom.Deps{Store: docs, Collection: collection, Index: searcher}, nil)

	results, err := svc.Search(context.Background(), "rates", newsroom.SearchOptions{Limit: 2, Alpha: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, searcher.gotK)
	require.InDelta(t, 0.5, searcher.gotAlpha, 1e-9)

	require.Equal(t, "The Fed held.", results[0].Summary)
	require.Equal(t, models.SentimentNegative, results[0].Sentiment.Category)
	require.False(t, results[0].Partial)

	require.True(t, results[1].Partial)
	require.Equal(t, "Oil slides", results[1].Title)
	require.Equal(t, strings.Repeat("a", 200)+"...", results[1].Summary)
	require.Equal(t, models.SentimentNeutral, results[1].Sentiment.Category)
	require.InDelta(t, 0.4, results[1].Sentiment.CompoundScore, 1e-9)
	require.Equal(t, "Bloomberg", results[1].Source)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := newsroom.New(newsroom.Deps{Index: &stubSearcher{}}, nil)
	_, err := svc.Search(context.Background(), "  ", newsroom.SearchOptions{})
	require.ErrorIs(t, err, newsroom.ErrInvalidQuery)

	_, err = svc.Search(context.Background(), "fed", newsroom.SearchOptions{Alpha: 1.2})
	require.ErrorIs(t, err, newsroom.ErrInvalidQuery)
}

func TestDetailIncludesSimilar(t *testing.T) {
	docs := docstore.NewMemory()
	save(t, docs, models.NewsRecord{ID: "a", Title: "A"})
	searcher := &stubSearcher{similar: []vector.Similar{{ID: "b", Title: "B", Similarity: 0.8}}}
	svc := newsroom.New(newsroom.Deps{Store: docs, Collection: collection, Index: searcher}, nil)

	d, err := svc.Detail(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "A", d.Record.Title)
	require.Equal(t, searcher.similar, d.Similar)

	searcher.similarErr = &vector.IndexError{Op: "search", Err: errors.New("down")}
	d, err = svc.Detail(context.Background(), "a")
	require.NoError(t, err)
	require.Empty(t, d.Similar)

	_, err = svc.Detail(context.Background(), "missing")
	require.ErrorIs(t, err, newsroom.ErrNotFound)
}

func TestFeedFiltersAndSorts(t *testing.T) {
	docs := docstore.NewMemory()
	day := func(d int) *time.Time {
		ts := time.Date(2026, 10, d, 9, 0, 0, 0, time.UTC)
		return &ts
	}
	save(t, docs, models.NewsRecord{
		ID: "1", Confidence: 0.9, PublishedAt: day(1),
		Sentiment: models.Sentiment{Category: models.SentimentPositive},
		Entities:  []models.Entity{{Name: "TSLA"}},
	})
	save(t, docs, models.NewsRecord{
		ID: "2", Confidence: 0.5, PublishedAt: day(5),
		Sentiment: models.Sentiment{Category: models.SentimentPositive},
		Entities:  []models.Entity{{Name: "TSLA"}, {Name: "BYD"}},
	})
	save(t, docs, models.NewsRecord{
		ID: "3", Confidence: 0.7, PublishedAt: day(6),
		Sentiment: models.Sentiment{Category: models.SentimentNegative},
		Entities:  []models.Entity{{Name: "TSLA"}},
	})
	svc := newsroom.New(newsroom.Deps{Store: docs, Collection: collection}, nil)
	ctx := context.Background()

	recs, err := svc.Feed(ctx, newsroom.FeedQuery{Category: "Positive", Entity: "TSLA", SortBy: newsroom.SortConfidence})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, recordIDs(recs))

	recs, err = svc.Feed(ctx, newsroom.FeedQuery{
		Entity: "TSLA", From: *day(2), SortBy: newsroom.SortConfidence, Direction: docstore.Ascending,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "3"}, recordIDs(recs))

	_, err = svc.Feed(ctx, newsroom.FeedQuery{Category: "bullish"})
	require.ErrorIs(t, err, newsroom.ErrInvalidQuery)
	_, err = svc.Feed(ctx, newsroom.FeedQuery{SortBy: "title"})
	require.ErrorIs(t, err, newsroom.ErrInvalidQuery)
}

func recordIDs(recs []models.NewsRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestRelatedUsesRelationshipStore(t *testing.T) {
	docs := docstore.NewMemory()
	rels := relationships.New(docs, "entity_relationships", nil)
	_, err := rels.Merge(context.Background(), "TSLA", "BYD", analysis.RelationMentionedWith, 0.4, "a")
	require.NoError(t, err)

	svc := newsroom.New(newsroom.Deps{Relations: rels}, nil)
	related, err := svc.Related(context.Background(), "BYD", 5)
	require.NoError(t, err)
	require.Equal(t, []relationships.Related{
		{Symbol: "TSLA", RelationshipType: analysis.RelationMentionedWith, Strength: 0.4, ArticleCount: 1},
	}, related)
}
