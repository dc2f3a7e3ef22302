package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/DeafMist/market-news-radar/internal/logger"
)

// ErrDisallowed is returned when robots.txt forbids fetching a page.
var ErrDisallowed = errors.New("disallowed by robots.txt")

const maxRedirects = 5

// consentHosts serve an interstitial cookie form before redirecting to the article.
var consentHosts = map[string]bool{
	"consent.yahoo.com": true,
	"guce.yahoo.com":    true,
}

// Article is the readable content of a page.
type Article struct {
	Title  string
	Byline string
	Text   string
	URL    string
}

// ArticleExtractor downloads article pages and extracts their main text.
type ArticleExtractor struct {
	client   *http.Client
	robots   *RobotsChecker
	limiter  *HostLimiter
	ua       string
	maxBytes int64
	log      *slog.Logger
}

// NewArticleExtractor creates an extractor. Each extractor has its own cookie
// jar so consent cookies survive between requests to the same host.
func NewArticleExtractor(opts HTTPOptions, log *slog.Logger) *ArticleExtractor {
	opts = opts.withDefaults()
	jar, _ := cookiejar.New(nil)

	client := &http.Client{
		Timeout: opts.Timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	if opts.Client != nil && opts.Client.Transport != nil {
		client.Transport = opts.Client.Transport
	}

	return &ArticleExtractor{
		client:   client,
		robots:   NewRobotsChecker(opts.UserAgent, client),
		limiter:  NewHostLimiter(rate.Every(500*time.Millisecond), 2),
		ua:       opts.UserAgent,
		maxBytes: opts.MaxBodyBytes,
		log:      logger.OrDiscard(log),
	}
}

// Extract fetches rawURL and returns its readable text.
func (e *ArticleExtractor) Extract(ctx context.Context, rawURL string) (Article, error) {
	allowed, delay, err := e.robots.Allowed(ctx, rawURL)
	if err != nil {
		return Article{}, err
	}
	if !allowed {
		return Article{}, ErrDisallowed
	}
	if delay > 0 {
		e.limiter.Slow(rawURL, delay)
	}
	if err := e.limiter.Wait(ctx, rawURL); err != nil {
		return Article{}, err
	}

	body, final, err := e.get(ctx, rawURL)
	if err != nil {
		return Article{}, err
	}

	if consentHosts[strings.ToLower(final.Hostname())] {
		e.log.Debug("accepting consent form", slog.String("host", final.Host))
		body, final, err = e.acceptConsent(ctx, body, final)
		if err != nil {
			return Article{}, fmt.Errorf("consent: %w", err)
		}
	}

	article, err := readability.FromReader(bytes.NewReader(body), final)
	if err != nil {
		return Article{}, fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		text = strings.TrimSpace(article.Excerpt)
	}
	return Article{
		Title:  strings.TrimSpace(article.Title),
		Byline: strings.TrimSpace(article.Byline),
		Text:   text,
		URL:    final.String(),
	}, nil
}

func (e *ArticleExtractor) get(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	return e.do(req)
}

func (e *ArticleExtractor) do(req *http.Request) ([]byte, *url.URL, error) {
	req.Header.Set("User-Agent", e.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	res, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, e.maxBytes))
	if err != nil {
		return nil, nil, err
	}
	return body, res.Request.URL, nil
}

// acceptConsent submits the consent page's form with the agree action and
// returns the page it redirects back to.
func (e *ArticleExtractor) acceptConsent(ctx context.Context, page []byte, pageURL *url.URL) ([]byte, *url.URL, error) {
	action, values, err := parseConsentForm(page)
	if err != nil {
		return nil, nil, err
	}
	target, err := pageURL.Parse(action)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

// parseConsentForm returns the action and hidden fields of the first form on
// the page, with the agree button's value added.
func parseConsentForm(page []byte) (string, url.Values, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", nil, err
	}
	form := findElement(doc, "form")
	if form == nil {
		return "", nil, errors.New("no consent form")
	}

	values := url.Values{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := attr(n, "name")
			switch {
			case n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") && name != "":
				values.Add(name, attr(n, "value"))
			case n.Data == "button" && name == "agree":
				v := attr(n, "value")
				if v == "" {
					v = "agree"
				}
				values.Set("agree", v)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	if values.Get("agree") == "" {
		values.Set("agree", "agree")
	}
	return attr(form, "action"), values, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var inlineTags = map[string]bool{
	"a": true, "b": true, "i": true, "em": true, "strong": true, "span": true, "code": true, "small": true,
}

// stripTags returns the text content of an HTML fragment with whitespace squeezed.
func stripTags(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if !inlineTags[string(name)] {
				sb.WriteByte(' ')
			}
		}
	}
}
