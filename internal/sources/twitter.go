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

const tweetURLPrefix = "https://twitter.com/i/web/status/"

// Twitter fetches recent tweets through the v2 recent search endpoint.
type Twitter struct {
	endpoint   string
	bearer     string
	maxResults int
	opts       HTTPOptions
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewTwitter creates a Twitter fetcher. maxResults is clamped to the API's 10..100.
func NewTwitter(endpoint, bearer string, maxResults int, opts HTTPOptions, log *slog.Logger) *Twitter {
	if maxResults < 10 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}
	return &Twitter{
		endpoint:   endpoint,
		bearer:     bearer,
		maxResults: maxResults,
		opts:       opts.withDefaults(),
		// app auth allows 450 requests per 15 minutes
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:     logger.OrDiscard(log),
	}
}

// Name implements Fetcher.
func (t *Twitter) Name() string { return "twitter" }

// Fetch implements Fetcher.
func (t *Twitter) Fetch(ctx context.Context, query string) []models.CandidateArticle {
	return guard(ctx, t.log, t.Name(), t.opts.Timeout, func(ctx context.Context) ([]models.CandidateArticle, error) {
		return t.fetch(ctx, query)
	})
}

type twitterResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
		AuthorID  string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (t *Twitter) fetch(ctx context.Context, query string) ([]models.CandidateArticle, error) {
	if t.bearer == "" {
		return nil, &FetchError{Source: t.Name(), Op: "configure", Err: errors.New("bearer token not set")}
	}

	params := url.Values{}
	params.Set("query", query+" -is:retweet lang:en")
	params.Set("max_results", strconv.Itoa(t.maxResults))
	params.Set("tweet.fields", "created_at,author_id")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.bearer)

	var payload twitterResponse
	if err := getJSON(ctx, t.opts, t.limiter, t.Name(), t.endpoint+"?"+params.Encode(), header, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 && len(payload.Errors) > 0 {
		return nil, &FetchError{Source: t.Name(), Op: "response", Err: errors.New(payload.Errors[0].Title + ": " + payload.Errors[0].Detail)}
	}

	users := make(map[string]string, len(payload.Includes.Users))
	for _, u := range payload.Includes.Users {
		users[u.ID] = u.Username
	}

	out := make([]models.CandidateArticle, 0, len(payload.Data))
	for _, tw := range payload.Data {
		if tw.ID == "" || tw.Text == "" {
			continue
		}
		title := processing.GenerateTitleFromText(tw.Text, 12)
		if title == "" {
			title = "Tweet " + tw.ID
		}
		published := processing.FormatTimestamp(processing.ParseTimestamp(tw.CreatedAt))
		c := candidate(title, tw.Text, "Twitter", published, tweetURLPrefix+tw.ID, users[tw.AuthorID])
		if links := processing.ExtractURLs(tw.Text); len(links) > 0 {
			c.Metadata["links"] = links
		}
		out = append(out, c)
	}
	return out, nil
}
