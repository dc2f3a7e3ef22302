// Package sources holds the upstream news fetchers and the full-article extractor.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/market-news-radar/internal/models"
)

// Fetcher retrieves candidate articles from one upstream source. Fetch never
// fails: errors are logged and yield an empty result so one source cannot
// abort an aggregation run.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, query string) []models.CandidateArticle
}

// FetchError reports a network, status or parse failure in one fetcher.
type FetchError struct {
	Source string
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Source, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPOptions configures the transport shared by the fetchers.
type HTTPOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 12 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "market-news-radar/1.0"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 2 << 20
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// guard runs fn under the fetch timeout and converts failures into an empty result.
func guard(ctx context.Context, log *slog.Logger, source string, timeout time.Duration, fn func(context.Context) ([]models.CandidateArticle, error)) []models.CandidateArticle {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	items, err := fn(ctx)
	if err != nil {
		log.Warn("source fetch failed",
			slog.String("source", source),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("err", err),
		)
		return nil
	}
	log.Debug("source fetched", slog.String("source", source), slog.Int("items", len(items)))
	return items
}

const maxRetries = 2

// getJSON performs a rate limited GET and decodes the JSON body into out.
// 429 and 503 responses are retried with exponential backoff.
func getJSON(ctx context.Context, opts HTTPOptions, limiter *rate.Limiter, source, rawURL string, header http.Header, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return &FetchError{Source: source, Op: "rate limit", Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return &FetchError{Source: source, Op: "build request", Err: err}
		}
		req.Header.Set("User-Agent", opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		res, err := opts.Client.Do(req)
		if err != nil {
			return &FetchError{Source: source, Op: "request", Err: err}
		}

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable {
			delay := retryDelay(res.Header.Get("Retry-After"), attempt)
			res.Body.Close()
			lastErr = &FetchError{Source: source, Op: "request", Status: res.StatusCode, Err: fmt.Errorf("throttled")}
			if attempt == maxRetries {
				break
			}
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return &FetchError{Source: source, Op: "backoff", Err: ctx.Err()}
			}
		}

		err = decodeBody(res, opts.MaxBodyBytes, out)
		res.Body.Close()
		if err != nil {
			return &FetchError{Source: source, Op: "decode", Status: res.StatusCode, Err: err}
		}
		return nil
	}
	return lastErr
}

func decodeBody(res *http.Response, limit int64, out any) error {
	body := io.LimitReader(res.Body, limit)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(body, 512))
		return fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(body).Decode(out)
}

func retryDelay(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > 10*time.Second {
			d = 10 * time.Second
		}
		return d
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func candidate(title, content, source, publishedAt, link, author string) models.CandidateArticle {
	return models.CandidateArticle{
		Title:       strings.TrimSpace(title),
		Content:     strings.TrimSpace(content),
		Source:      source,
		PublishedAt: publishedAt,
		URL:         link,
		Author:      strings.TrimSpace(author),
		Metadata: map[string]any{
			models.MetaPublishedAt: publishedAt,
			models.MetaURL:         link,
			models.MetaSource:      source,
			models.MetaAuthor:      strings.TrimSpace(author),
		},
	}
}
