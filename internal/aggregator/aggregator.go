// Package aggregator fans a query out to every news source and merges the
// results into one deduplicated, recency ordered batch.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
	"github.com/DeafMist/market-news-radar/internal/sources"
)

const (
	defaultWorkers = 5
	defaultBudget  = 10
)

// Deduplicator decides whether a candidate was already ingested. A false
// answer registers the candidate.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, rawURL, content string) bool
}

// Releaser is implemented by deduplicators that can undo a registration.
type Releaser interface {
	Forget(ctx context.Context, rawURL, content string) error
}

// Options tunes the fan-out.
type Options struct {
	Workers int
	Budget  int
}

// Result is the outcome of one aggregation run.
type Result struct {
	RunID      string
	Articles   []models.CandidateArticle
	Fetched    int
	Duplicates int
	Elapsed    time.Duration
}

// Aggregator runs the configured fetchers concurrently.
type Aggregator struct {
	fetchers []sources.Fetcher
	dedup    Deduplicator
	workers  int
	budget   int
	log      *slog.Logger
}

// New creates an Aggregator over fetchers.
func New(fetchers []sources.Fetcher, dedup Deduplicator, opts Options, log *slog.Logger) *Aggregator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Budget <= 0 {
		opts.Budget = defaultBudget
	}
	return &Aggregator{
		fetchers: fetchers,
		dedup:    dedup,
		workers:  opts.Workers,
		budget:   opts.Budget,
		log:      logger.OrDiscard(log),
	}
}

// GetAllNews returns at most budget new candidates for query, newest first.
func (a *Aggregator) GetAllNews(ctx context.Context, query string) []models.CandidateArticle {
	return a.Collect(ctx, query).Articles
}

// GetNews is GetAllNews with a per-call limit. A limit above the configured
// budget, or not positive, is replaced by the budget.
func (a *Aggregator) GetNews(ctx context.Context, query string, limit int) []models.CandidateArticle {
	if limit <= 0 || limit > a.budget {
		limit = a.budget
	}
	return a.collect(ctx, query, limit).Articles
}

// Collect runs every fetcher and merges their output. Candidates are walked
// newest first and passed through the deduplicator until the budget is
// filled; candidates past the budget are left unregistered.
func (a *Aggregator) Collect(ctx context.Context, query string) Result {
	return a.collect(ctx, query, a.budget)
}

// Release undoes the registration of articles that were returned but could
// not be handed on, so a later run returns them again. It is a no-op when
// the deduplicator cannot forget.
func (a *Aggregator) Release(ctx context.Context, articles []models.CandidateArticle) error {
	r, ok := a.dedup.(Releaser)
	if !ok {
		return nil
	}
	var errs []error
	for _, art := range articles {
		if err := r.Forget(ctx, art.URL, art.Content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) collect(ctx context.Context, query string, budget int) Result {
	start := time.Now()
	runID := uuid.NewString()
	log := a.log.With(slog.String("run_id", runID), slog.String("query", query))

	perSource := make([][]models.CandidateArticle, len(a.fetchers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, f := range a.fetchers {
		g.Go(func() error {
			perSource[i] = f.Fetch(gctx, query)
			return nil
		})
	}
	_ = g.Wait()

	var merged []models.CandidateArticle
	for _, items := range perSource {
		merged = append(merged, items...)
	}

	stamps := make([]time.Time, len(merged))
	order := make([]int, len(merged))
	for i := range merged {
		stamps[i] = processing.ParseTimestamp(merged[i].PublishedAt)
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return stamps[order[x]].After(stamps[order[y]])
	})

	res := Result{RunID: runID, Fetched: len(merged)}
	for _, idx := range order {
		if len(res.Articles) >= budget {
			break
		}
		c := merged[idx]
		if a.dedup != nil && a.dedup.IsDuplicate(ctx, c.URL, c.Content) {
			res.Duplicates++
			continue
		}
		res.Articles = append(res.Articles, c)
	}
	res.Elapsed = time.Since(start)

	log.Info("aggregation finished",
		slog.Int("sources", len(a.fetchers)),
		slog.Int("fetched", res.Fetched),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("returned", len(res.Articles)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res
}
