package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/market-news-radar/internal/app"
	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/llm"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/newsroom"
	"github.com/DeafMist/market-news-radar/internal/relationships"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

const (
	defaultSearchLimit  = 5
	defaultRelatedLimit = 10
)

type newsService interface {
	Feed(ctx context.Context, q newsroom.FeedQuery) ([]models.NewsRecord, error)
	Detail(ctx context.Context, id string) (newsroom.Detail, error)
	Search(ctx context.Context, query string, opts newsroom.SearchOptions) ([]newsroom.SearchResult, error)
	Related(ctx context.Context, symbol string, limit int) ([]relationships.Related, error)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := app.Connect(ctx, cfg.ElasticsearchAddr, 10, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := app.EnsureIndices(ctx, esClient, cfg.Common); err != nil {
		log.Error("ensure indices", slog.Any("err", err))
		os.Exit(1)
	}

	llmClient, err := llm.New(cfg.LLM, log)
	if err != nil {
		log.Error("init llm client", slog.Any("err", err))
		os.Exit(1)
	}
	idx, vstore, err := app.VectorIndex(ctx, cfg.Vector, llmClient, esClient, log)
	if err != nil {
		log.Error("open vector index", slog.Any("err", err))
		os.Exit(1)
	}
	defer vstore.Close()

	news := newsroom.New(newsroom.Deps{
		Store:      esClient,
		Collection: cfg.NewsIndex,
		Index:      idx,
		Relations:  relationships.New(esClient, cfg.RelationshipIndex, log),
	}, log)

	srv := &server{log: log, cfg: cfg, es: esClient, news: news}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log  *slog.Logger
	cfg  *config.API
	es   healthChecker
	news newsService
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/news", s.handleFeed)
		r.Get("/news/{id}", s.handleDetail)
		r.Get("/search", s.handleSearch)
		r.Get("/related/{symbol}", s.handleRelated)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	dir := docstore.Direction(strings.ToLower(strings.TrimSpace(q.Get("direction"))))
	switch dir {
	case "", docstore.Ascending, docstore.Descending:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "direction must be asc or desc"})
		return
	}

	feed := newsroom.FeedQuery{
		Category:  models.SentimentCategory(strings.TrimSpace(q.Get("category"))),
		Entity:    strings.TrimSpace(q.Get("entity")),
		Topic:     strings.TrimSpace(q.Get("topic")),
		SortBy:    strings.TrimSpace(q.Get("sort")),
		Direction: dir,
		Limit:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
	}
	if start := parseTime(q.Get("start")); start != nil {
		feed.From = *start
	}
	if end := parseTime(q.Get("end")); end != nil {
		feed.To = *end
	}

	records, err := s.news.Feed(ctx, feed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(records))
}

func (s *server) handleDetail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := s.news.Detail(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	q := r.URL.Query()
	alpha := vector.DefaultAlpha
	if raw := strings.TrimSpace(q.Get("alpha")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "alpha must be a number"})
			return
		}
		alpha = v
	}

	var filters []docstore.Filter
	for _, topic := range parseCSV(q.Get("topics")) {
		filters = append(filters, docstore.Where("topics", docstore.OpArrayContains, topic))
	}
	if source := strings.TrimSpace(q.Get("source")); source != "" {
		filters = append(filters, docstore.Where("source", docstore.OpEq, source))
	}

	results, err := s.news.Search(ctx, q.Get("q"), newsroom.SearchOptions{
		Limit:   clampInt(q.Get("limit"), defaultSearchLimit, s.cfg.MaxPage),
		Alpha:   alpha,
		Filters: filters,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(results))
}

func (s *server) handleRelated(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := clampInt(r.URL.Query().Get("limit"), defaultRelatedLimit, s.cfg.MaxPage)
	related, err := s.news.Related(ctx, chi.URLParam(r, "symbol"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(related))
}

// fail maps core errors onto status codes. Backend failures are logged with
// the request id; the client only sees the message.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		storageErr *docstore.StorageError
		indexErr   *vector.IndexError
	)
	switch {
	case errors.Is(err, newsroom.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, newsroom.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &storageErr), errors.As(err, &indexErr):
		status = http.StatusServiceUnavailable
	}
	s.log.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("status", status),
		slog.Any("err", err),
	)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
