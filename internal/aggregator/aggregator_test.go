package aggregator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/market-news-radar/internal/aggregator"
	"github.com/DeafMist/market-news-radar/internal/dedupe"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/sources"
)

func fetchers(fs ...sources.Fetcher) []sources.Fetcher { return fs }

type stubFetcher struct {
	name  string
	items []models.CandidateArticle
	delay time.Duration
}

func (s stubFetcher) Name() string { return s.name }

func (s stubFetcher) Fetch(ctx context.Context, _ string) []models.CandidateArticle {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return s.items
}

// timeoutFetcher behaves like a source whose request hit its deadline.
type timeoutFetcher struct{}

func (timeoutFetcher) Name() string { return "slow" }

func (timeoutFetcher) Fetch(ctx context.Context, _ string) []models.CandidateArticle {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	<-ctx.Done()
	return nil
}

type countingDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *countingDedup) IsDuplicate(_ context.Context, rawURL, _ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[rawURL] {
		return true
	}
	d.seen[rawURL] = true
	return false
}

func article(source string, i int, published string) models.CandidateArticle {
	return models.CandidateArticle{
		Title:       fmt.Sprintf("%s story %d", source, i),
		Content:     fmt.Sprintf("%s body %d", source, i),
		Source:      source,
		URL:         fmt.Sprintf("https://%s.example.com/%d", source, i),
		PublishedAt: published,
	}
}

func TestGetAllNewsReturnsNewestWithinBudget(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	stamp := func(h int) string { return base.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }

	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		article("a", 1, stamp(1)),
		article("a", 2, stamp(9)),
		article("a", 3, ""),
	}}
	b := stubFetcher{name: "b", items: []models.CandidateArticle{
		article("b", 1, stamp(5)),
		article("b", 2, "not a date"),
		article("b", 3, stamp(7)),
	}}

	agg := aggregator.New(fetchers(a, b), &countingDedup{}, aggregator.Options{Workers: 2, Budget: 3}, nil)
	got := agg.GetAllNews(context.Background(), "stocks")

	require.Len(t, got, 3)
	require.Equal(t, "a story 2", got[0].Title)
	require.Equal(t, "b story 3", got[1].Title)
	require.Equal(t, "b story 1", got[2].Title)
}

func TestGetAllNewsMissingTimestampsSortLast(t *testing.T) {
	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		article("a", 1, ""),
		article("a", 2, "2026-10-01T10:00:00Z"),
	}}

	agg := aggregator.New(fetchers(a), nil, aggregator.Options{Budget: 10}, nil)
	got := agg.GetAllNews(context.Background(), "q")
	require.Len(t, got, 2)
	require.Equal(t, "a story 2", got[0].Title)
	require.Equal(t, "a story 1", got[1].Title)
}

func TestCollectSkipsDuplicatesAcrossSources(t *testing.T) {
	shared := article("wire", 1, "2026-10-01T10:00:00Z")
	a := stubFetcher{name: "a", items: []models.CandidateArticle{shared, article("a", 1, "2026-10-01T09:00:00Z")}}
	b := stubFetcher{name: "b", items: []models.CandidateArticle{shared}}

	agg := aggregator.New(fetchers(a, b), &countingDedup{}, aggregator.Options{Budget: 10}, nil)
	res := agg.Collect(context.Background(), "q")

	require.NotEmpty(t, res.RunID)
	require.Equal(t, 3, res.Fetched)
	require.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Articles, 2)
}

func TestCollectLeavesOverflowUnregistered(t *testing.T) {
	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		article("a", 1, "2026-10-01T10:00:00Z"),
		article("a", 2, "2026-10-01T09:00:00Z"),
		article("a", 3, "2026-10-01T08:00:00Z"),
	}}
	dedup := &countingDedup{}

	agg := aggregator.New(fetchers(a), dedup, aggregator.Options{Budget: 1}, nil)
	require.Len(t, agg.GetAllNews(context.Background(), "q"), 1)
	require.Len(t, dedup.seen, 1)

	second := agg.GetAllNews(context.Background(), "q")
	require.Len(t, second, 1)
	require.Equal(t, "a story 2", second[0].Title)
}

func TestGetAllNewsSurvivesTimedOutSource(t *testing.T) {
	a := stubFetcher{name: "a", items: []models.CandidateArticle{article("a", 1, "2026-10-01T10:00:00Z")}}
	c := stubFetcher{name: "c", items: []models.CandidateArticle{article("c", 1, "2026-10-01T11:00:00Z")}}

	agg := aggregator.New(fetchers(a, timeoutFetcher{}, c), &countingDedup{}, aggregator.Options{Budget: 10}, nil)
	got := agg.GetAllNews(context.Background(), "q")
	require.Len(t, got, 2)
	require.Equal(t, "c story 1", got[0].Title)
	require.Equal(t, "a story 1", got[1].Title)
}

func TestGetAllNewsRunsSourcesConcurrently(t *testing.T) {
	var list []sources.Fetcher
	for i := 0; i < 5; i++ {
		list = append(list, stubFetcher{
			name:  fmt.Sprintf("s%d", i),
			items: []models.CandidateArticle{article(fmt.Sprintf("s%d", i), 1, "")},
			delay: 100 * time.Millisecond,
		})
	}

	agg := aggregator.New(list, nil, aggregator.Options{Workers: 5, Budget: 10}, nil)
	start := time.Now()
	got := agg.GetAllNews(context.Background(), "q")
	require.Len(t, got, 5)
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGetAllNewsWithLedger(t *testing.T) {
	ledger := dedupe.NewLedger(docstore.NewMemory(), dedupe.LedgerConfig{Collection: "ledger", Window: 50, WindowTTL: time.Hour, Threshold: 0.9}, nil)

	x := models.CandidateArticle{Title: "Tesla", Content: "Tesla beats earnings expectations", URL: "https://x.example.com/tesla", PublishedAt: "2026-10-01T10:00:00Z"}
	y := x
	y.URL = "https://y.example.com/tesla-copy"

	first := aggregator.New(fetchers(stubFetcher{name: "x", items: []models.CandidateArticle{x}}), ledger, aggregator.Options{}, nil)
	require.Len(t, first.GetAllNews(context.Background(), "tesla"), 1)

	second := aggregator.New(fetchers(stubFetcher{name: "y", items: []models.CandidateArticle{y}}), ledger, aggregator.Options{}, nil)
	require.Empty(t, second.GetAllNews(context.Background(), "tesla"))
}

func TestGetNewsLimitRegistersOnlyReturned(t *testing.T) {
	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		article("a", 1, "2026-10-01T10:00:00Z"),
		article("a", 2, "2026-10-01T09:00:00Z"),
		article("a", 3, "2026-10-01T08:00:00Z"),
	}}
	dedup := &countingDedup{}
	agg := aggregator.New(fetchers(a), dedup, aggregator.Options{Budget: 10}, nil)

	got := agg.GetNews(context.Background(), "q", 1)
	require.Len(t, got, 1)
	require.Equal(t, "a story 1", got[0].Title)
	require.Len(t, dedup.seen, 1)

	require.Len(t, agg.GetNews(context.Background(), "q", 0), 2)
}

func TestGetNewsLimitCappedByBudget(t *testing.T) {
	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		article("a", 1, ""), article("a", 2, ""), article("a", 3, ""),
	}}
	agg := aggregator.New(fetchers(a), nil, aggregator.Options{Budget: 2}, nil)
	require.Len(t, agg.GetNews(context.Background(), "q", 50), 2)
}

func TestReleaseMakesArticlesNewAgain(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	ledger := dedupe.NewLedger(store, dedupe.LedgerConfig{Collection: "ledger", Window: 50, WindowTTL: time.Hour, Threshold: 0.9}, nil)

	a := stubFetcher{name: "a", items: []models.CandidateArticle{
		{Title: "Rates", Content: "Central bank holds rates and signals patience", URL: "https://a.example.com/rates", PublishedAt: "2026-10-01T10:00:00Z"},
		{Title: "Oil", Content: "Crude futures climb on supply cuts from producers", URL: "https://a.example.com/oil", PublishedAt: "2026-10-01T09:00:00Z"},
	}}
	agg := aggregator.New(fetchers(a), ledger, aggregator.Options{Budget: 10}, nil)

	first := agg.Collect(ctx, "q")
	require.Len(t, first.Articles, 2)
	require.Empty(t, agg.Collect(ctx, "q").Articles)

	require.NoError(t, agg.Release(ctx, first.Articles))
	require.Zero(t, store.Len("ledger"))
	require.Len(t, agg.Collect(ctx, "q").Articles, 2)
}

func TestReleaseWithoutForgetfulDeduplicator(t *testing.T) {
	agg := aggregator.New(nil, &countingDedup{}, aggregator.Options{}, nil)
	require.NoError(t, agg.Release(context.Background(), []models.CandidateArticle{article("a", 1, "")}))
}
