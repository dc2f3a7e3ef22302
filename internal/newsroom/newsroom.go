// Package newsroom implements the use cases the CLI and the HTTP API expose:
// analyzing a symbol on demand, the news feed, article detail, search and
// related entities.
package newsroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/market-news-radar/internal/analysis"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
	"github.com/DeafMist/market-news-radar/internal/relationships"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("news record not found")
	// ErrInvalidQuery wraps rejected caller input.
	ErrInvalidQuery = errors.New("invalid query")
)

const (
	similarPerDetail = 3
	previewLength    = 200
)

// Collector returns up to limit fresh candidate articles for a query. Only
// the returned candidates are registered as seen; Release hands back the
// ones that were not processed.
type Collector interface {
	GetNews(ctx context.Context, query string, limit int) []models.CandidateArticle
	Release(ctx context.Context, articles []models.CandidateArticle) error
}

// Analyzer analyzes and stores one candidate.
type Analyzer interface {
	Analyze(ctx context.Context, art models.CandidateArticle) (*models.NewsRecord, error)
}

// Searcher is the vector index.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, filters []docstore.Filter, k int, alpha float64) ([]vector.Hit, error)
	SimilarArticles(ctx context.Context, id string, k int) ([]vector.Similar, error)
}

// RelatedFinder lists entity relationships.
type RelatedFinder interface {
	Related(ctx context.Context, symbol string, limit int) ([]relationships.Related, error)
}

// Deps are the collaborators of a Service. Collector and Analyzer are only
// needed by AnalyzeSymbol.
type Deps struct {
	Store      docstore.Store
	Collection string
	Collector  Collector
	Analyzer   Analyzer
	Index      Searcher
	Relations  RelatedFinder
}

// Service wires the use cases over their collaborators.
type Service struct {
	store      docstore.Store
	collection string
	collector  Collector
	analyzer   Analyzer
	index      Searcher
	relations  RelatedFinder
	log        *slog.Logger
}

// New creates a Service.
func New(deps Deps, log *slog.Logger) *Service {
	return &Service{
		store:      deps.Store,
		collection: deps.Collection,
		collector:  deps.Collector,
		analyzer:   deps.Analyzer,
		index:      deps.Index,
		relations:  deps.Relations,
		log:        logger.OrDiscard(log),
	}
}

// Failure is an article that was fetched but rejected by analysis.
type Failure struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// AnalyzeReport summarizes one AnalyzeSymbol run.
type AnalyzeReport struct {
	Symbol   string               `json:"symbol"`
	Fetched  int                  `json:"fetched"`
	Records  []*models.NewsRecord `json:"records"`
	Failures []Failure            `json:"failures,omitempty"`
}

// AnalyzeSymbol fetches up to max fresh articles about symbol and analyzes
// each. Rejected articles are reported and skipped; an infrastructure error
// stops the run, releases the articles not analyzed yet and is returned with
// the partial report.
func (s *Service) AnalyzeSymbol(ctx context.Context, symbol string, max int) (AnalyzeReport, error) {
	symbol = strings.TrimSpace(symbol)
	report := AnalyzeReport{Symbol: symbol}
	if symbol == "" {
		return report, fmt.Errorf("%w: symbol is required", ErrInvalidQuery)
	}
	if s.collector == nil || s.analyzer == nil {
		return report, fmt.Errorf("analysis is not configured")
	}

	arts := s.collector.GetNews(ctx, symbol, max)
	report.Fetched = len(arts)

	for i, art := range arts {
		rec, err := s.analyzer.Analyze(ctx, art)
		var pe *analysis.ParseError
		switch {
		case err == nil:
			report.Records = append(report.Records, rec)
		case errors.As(err, &pe):
			s.log.Warn("article rejected",
				slog.String("url", art.URL),
				slog.String("kind", string(pe.Kind)),
				slog.Any("err", err),
			)
			report.Failures = append(report.Failures, Failure{
				Title: art.Title, URL: art.URL, Kind: string(pe.Kind), Error: err.Error(),
			})
		default:
			if rerr := s.collector.Release(ctx, arts[i:]); rerr != nil {
				s.log.Warn("release unanalyzed articles", slog.Int("count", len(arts)-i), slog.Any("err", rerr))
			}
			return report, fmt.Errorf("analyze %s: %w", art.URL, err)
		}
	}

	s.log.Info("symbol analyzed",
		slog.String("symbol", symbol),
		slog.Int("fetched", report.Fetched),
		slog.Int("stored", len(report.Records)),
		slog.Int("rejected", len(report.Failures)),
	)
	return report, nil
}

// SearchResult is one hit of Search. Partial is set when the full record was
// not readable yet and the fields come from the vector metadata.
type SearchResult struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Summary     string           `json:"summary"`
	Sentiment   models.Sentiment `json:"sentiment"`
	Source      string           `json:"source"`
	URL         string           `json:"url,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	Topics      []string         `json:"topics"`
	Score       float64          `json:"score"`
	Partial     bool             `json:"partial"`
}

// SearchOptions tune Search.
type SearchOptions struct {
	Limit   int
	Alpha   float64
	Filters []docstore.Filter
}

// Search runs a hybrid search and resolves every hit to its News Record.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("%w: alpha must be in [0, 1]", ErrInvalidQuery)
	}

	hits, err := s.index.HybridSearch(ctx, query, opts.Filters, opts.Limit, opts.Alpha)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := s.record(ctx, h.Entry.ID)
		switch {
		case err == nil:
			out = append(out, fromRecord(rec, h.Score))
		case errors.Is(err, ErrNotFound):
			out = append(out, fromEntry(h.Entry, h.Score))
		default:
			return nil, err
		}
	}
	return out, nil
}

func fromRecord(rec *models.NewsRecord, score float64) SearchResult {
	return SearchResult{
		ID:          rec.ID,
		Title:       rec.Title,
		Summary:     rec.Summary,
		Sentiment:   rec.Sentiment,
		Source:      rec.Source,
		URL:         rec.URL,
		PublishedAt: rec.PublishedAt,
		Topics:      rec.Topics,
		Score:       score,
	}
}

func fromEntry(e vector.Entry, score float64) SearchResult {
	return SearchResult{
		ID:      e.ID,
		Title:   e.Metadata.Title,
		Summary: processing.Truncate(e.Text, previewLength),
		Sentiment: models.Sentiment{
			CompoundScore: e.Metadata.SentimentScore,
			Category:      models.SentimentNeutral,
		},
		Source:      e.Metadata.Source,
		PublishedAt: e.Metadata.PublishedAt,
		Topics:      e.Metadata.Topics,
		Score:       score,
		Partial:     true,
	}
}

// Detail is a record with its nearest neighbours.
type Detail struct {
	Record  *models.NewsRecord `json:"record"`
	Similar []vector.Similar   `json:"similar"`
}

// Detail returns the record id and up to three similar articles. Similar
// articles are best effort: a failing index leaves the list empty.
func (s *Service) Detail(ctx context.Context, id string) (Detail, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Record: rec, Similar: []vector.Similar{}}
	if s.index == nil {
		return d, nil
	}
	similar, err := s.index.SimilarArticles(ctx, id, similarPerDetail)
	if err != nil {
		s.log.Warn("similar articles unavailable", slog.String("id", id), slog.Any("err", err))
		return d, nil
	}
	d.Similar = similar
	return d, nil
}

// Related returns relationships of symbol, strongest first.
func (s *Service) Related(ctx context.Context, symbol string, limit int) ([]relationships.Related, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidQuery)
	}
	return s.relations.Related(ctx, symbol, limit)
}

func (s *Service) record(ctx context.Context, id string) (*models.NewsRecord, error) {
	doc, err := s.store.Get(ctx, s.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.NewsRecord
	if err := doc.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
