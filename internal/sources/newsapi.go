package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// NewsAPI fetches articles from the NewsAPI /v2/everything endpoint.
type NewsAPI struct {
	endpoint string
	apiKey   string
	pageSize int
	opts     HTTPOptions
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewNewsAPI creates a NewsAPI fetcher returning up to pageSize articles per call.
func NewNewsAPI(endpoint, apiKey string, pageSize int, opts HTTPOptions, log *slog.Logger) *NewsAPI {
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &NewsAPI{
		endpoint: endpoint,
		apiKey:   apiKey,
		pageSize: pageSize,
		opts:     opts.withDefaults(),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:      logger.OrDiscard(log),
	}
}

// Name implements Fetcher.
func (n *NewsAPI) Name() string { return "newsapi" }

// Fetch implements Fetcher.
func (n *NewsAPI) Fetch(ctx context.Context, query string) []models.CandidateArticle {
	return guard(ctx, n.log, n.Name(), n.opts.Timeout, func(ctx context.Context) ([]models.CandidateArticle, error) {
		return n.fetch(ctx, query)
	})
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (n *NewsAPI) fetch(ctx context.Context, query string) ([]models.CandidateArticle, error) {
	if n.apiKey == "" {
		return nil, &FetchError{Source: n.Name(), Op: "configure", Err: errors.New("api key not set")}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", strconv.Itoa(n.pageSize))

	header := http.Header{}
	header.Set("X-Api-Key", n.apiKey)

	var payload newsAPIResponse
	if err := getJSON(ctx, n.opts, n.limiter, n.Name(), n.endpoint+"?"+params.Encode(), header, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "ok" {
		return nil, &FetchError{Source: n.Name(), Op: "response", Err: errors.New(payload.Code + ": " + payload.Message)}
	}

	out := make([]models.CandidateArticle, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		source := a.Source.Name
		if source == "" {
			source = "NewsAPI"
		}
		published := processing.FormatTimestamp(processing.ParseTimestamp(a.PublishedAt))
		out = append(out, candidate(a.Title, a.Title+"\n"+a.Description, source, published, a.URL, a.Author))
	}
	return out, nil
}
