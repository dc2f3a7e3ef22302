package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestHostLimiterSlow(t *testing.T) {
	l := NewHostLimiter(rate.Every(10*time.Millisecond), 2)

	l.Slow("https://example.com/a", 5*time.Second)
	lim := l.get("example.com")
	require.Equal(t, rate.Every(5*time.Second), lim.Limit())
	require.Equal(t, 1, lim.Burst())

	l.Slow("https://example.com/b", time.Second)
	require.Equal(t, rate.Every(5*time.Second), lim.Limit())

	l.Slow("https://example.com/c", 0)
	require.Equal(t, rate.Every(5*time.Second), lim.Limit())

	require.Equal(t, rate.Every(10*time.Millisecond), l.get("other.example").Limit())
}

func TestExtractAppliesCrawlDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: 3\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(consentArticle))
	}))
	t.Cleanup(srv.Close)

	e := NewArticleExtractor(HTTPOptions{Timeout: 5 * time.Second, UserAgent: "market-news-radar/test"}, nil)
	_, err := e.Extract(context.Background(), srv.URL+"/news/tsla")
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	require.Equal(t, rate.Every(3*time.Second), e.limiter.get(u.Host).Limit())
}
