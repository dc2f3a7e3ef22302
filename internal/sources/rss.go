package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// DefaultFeed is used when no feed is configured.
const DefaultFeed = "https://finance.yahoo.com/rss/"

// Extractor pulls the readable body of an article page.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (Article, error)
}

// RSS reads RSS, RDF and Atom feeds. Feeds are not queryable, so the query is
// ignored and the newest maxItems entries of every feed are returned. When an
// extractor is set each entry's page is fetched for the full article text.
type RSS struct {
	feeds     []string
	maxItems  int
	extractor Extractor
	opts      HTTPOptions
	limiter   *HostLimiter
	log       *slog.Logger
}

// NewRSS creates an RSS fetcher. extractor may be nil to keep feed summaries only.
func NewRSS(feeds []string, maxItems int, extractor Extractor, opts HTTPOptions, log *slog.Logger) *RSS {
	if len(feeds) == 0 {
		feeds = []string{DefaultFeed}
	}
	if maxItems <= 0 {
		maxItems = 10
	}
	return &RSS{
		feeds:     feeds,
		maxItems:  maxItems,
		extractor: extractor,
		opts:      opts.withDefaults(),
		limiter:   NewHostLimiter(rate.Every(time.Second), 1),
		log:       logger.OrDiscard(log),
	}
}

// Name implements Fetcher.
func (r *RSS) Name() string { return "rss" }

// Fetch implements Fetcher. One failing feed does not discard the others.
func (r *RSS) Fetch(ctx context.Context, _ string) []models.CandidateArticle {
	return guard(ctx, r.log, r.Name(), r.opts.Timeout, func(ctx context.Context) ([]models.CandidateArticle, error) {
		var (
			out  []models.CandidateArticle
			errs []error
		)
		for _, feed := range r.feeds {
			items, err := r.fetchFeed(ctx, feed)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, items...)
		}
		if len(out) == 0 && len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		for _, err := range errs {
			r.log.Warn("feed failed", slog.Any("err", err))
		}
		return out, nil
	})
}

func (r *RSS) fetchFeed(ctx context.Context, feedURL string) ([]models.CandidateArticle, error) {
	if err := r.limiter.Wait(ctx, feedURL); err != nil {
		return nil, &FetchError{Source: r.Name(), Op: "rate limit", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{Source: r.Name(), Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	res, err := r.opts.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: r.Name(), Op: "request", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &FetchError{Source: r.Name(), Op: "request", Status: res.StatusCode, Err: fmt.Errorf("feed %s", feedURL)}
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(res.Body, r.opts.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{Source: r.Name(), Op: "parse", Err: err}
	}
	items := feed.Items
	if len(items) > r.maxItems {
		items = items[:r.maxItems]
	}

	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = "RSS"
	}
	out := make([]models.CandidateArticle, 0, len(items))
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		title := strings.TrimSpace(it.Title)
		content := it.Description
		if content == "" {
			content = it.Content
		}
		content = stripTags(content)
		if r.extractor != nil {
			if art, err := r.extractor.Extract(ctx, link); err != nil {
				r.log.Debug("full article unavailable, using feed summary", slog.String("url", link), slog.Any("err", err))
			} else if art.Text != "" {
				content = art.Text
				if title == "" {
					title = art.Title
				}
			}
		}
		if title == "" {
			title = processing.GenerateTitleFromText(content, 12)
		}
		out = append(out, candidate(title, content, source, published(it), link, author(it)))
	}
	return out, nil
}

// published prefers the publication date and falls back to the update date.
// Items with neither keep an empty timestamp.
func published(it *gofeed.Item) string {
	switch {
	case it.PublishedParsed != nil:
		return processing.FormatTimestamp(*it.PublishedParsed)
	case it.UpdatedParsed != nil:
		return processing.FormatTimestamp(*it.UpdatedParsed)
	}
	return processing.FormatTimestamp(processing.ParseTimestamp(it.Published))
}

func author(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	for _, p := range it.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
		return it.DublinCoreExt.Creator[0]
	}
	return ""
}
