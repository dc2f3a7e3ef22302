package sources_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/sources"
)

func testOptions() sources.HTTPOptions {
	return sources.HTTPOptions{Timeout: 5 * time.Second, UserAgent: "market-news-radar/test"}
}

func TestNewsAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.Equal(t, "AAPL earnings", r.URL.Query().Get("q"))
		require.Equal(t, "publishedAt", r.URL.Query().Get("sortBy"))
		require.Equal(t, "5", r.URL.Query().Get("pageSize"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{
					"source":      map[string]any{"name": "Reuters"},
					"author":      "Jane Doe",
					"title":       "Apple beats estimates",
					"description": "Revenue rose 8% on iPhone demand.",
					"url":         "https://example.com/apple",
					"publishedAt": "2026-10-01T12:00:00Z",
				},
				{
					"source":      map[string]any{"name": ""},
					"title":       "Markets drift",
					"description": "Stocks flat.",
					"url":         "https://example.com/drift",
				},
				{"title": "no url"},
			},
		})
	}))
	defer srv.Close()

	f := sources.NewNewsAPI(srv.URL, "secret", 5, testOptions(), nil)
	items := f.Fetch(context.Background(), "AAPL earnings")
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, "Apple beats estimates", first.Title)
	require.Equal(t, "Apple beats estimates\nRevenue rose 8% on iPhone demand.", first.Content)
	require.Equal(t, "Reuters", first.Source)
	require.Equal(t, "2026-10-01T12:00:00Z", first.PublishedAt)
	require.Equal(t, "https://example.com/apple", first.Metadata[models.MetaURL])
	require.Equal(t, "Jane Doe", first.Author)

	require.Equal(t, "NewsAPI", items[1].Source)
	require.Empty(t, items[1].PublishedAt)
}

func TestNewsAPIFailureYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyInvalid"}`))
	}))
	defer srv.Close()

	f := sources.NewNewsAPI(srv.URL, "bad", 5, testOptions(), nil)
	require.Empty(t, f.Fetch(context.Background(), "stocks"))

	noKey := sources.NewNewsAPI(srv.URL, "", 5, testOptions(), nil)
	require.Empty(t, noKey.Fetch(context.Background(), "stocks"))
}

func TestNewsAPIRetriesThrottledRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","articles":[{"title":"T","description":"D","url":"https://example.com/t"}]}`))
	}))
	defer srv.Close()

	f := sources.NewNewsAPI(srv.URL, "key", 5, testOptions(), nil)
	items := f.Fetch(context.Background(), "stocks")
	require.Len(t, items, 1)
	require.Equal(t, int32(2), calls.Load())
}

func TestTwitterFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.Equal(t, "$TSLA -is:retweet lang:en", r.URL.Query().Get("query"))
		require.Equal(t, "10", r.URL.Query().Get("max_results"))

		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "42", "text": "Tesla deliveries up 20% https://t.co/abc", "created_at": "2026-10-02T09:30:00.000Z", "author_id": "7"},
				{"id": "", "text": "skipped"}
			],
			"includes": {"users": [{"id": "7", "username": "trader"}]}
		}`))
	}))
	defer srv.Close()

	f := sources.NewTwitter(srv.URL, "token", 3, testOptions(), nil)
	items := f.Fetch(context.Background(), "$TSLA")
	require.Len(t, items, 1)

	tw := items[0]
	require.Equal(t, "https://twitter.com/i/web/status/42", tw.URL)
	require.Equal(t, "Twitter", tw.Source)
	require.Equal(t, "trader", tw.Author)
	require.Equal(t, "2026-10-02T09:30:00Z", tw.PublishedAt)
	require.Equal(t, []string{"https://t.co/abc"}, tw.Metadata["links"])
	require.NotEmpty(t, tw.Title)
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Yahoo Finance</title>
  <item>
    <title>Fed holds rates</title>
    <link>%s/a</link>
    <description><![CDATA[<p>The Fed held rates <b>steady</b>.</p>]]></description>
    <pubDate>Wed, 14 Oct 2026 10:00:00 +0000</pubDate>
    <dc:creator>Reporter One</dc:creator>
  </item>
  <item>
    <title>Oil jumps</title>
    <link>%s/b</link>
    <description>Brent rose 3%.</description>
    <source url="https://bloomberg.com">Bloomberg</source>
  </item>
  <item>
    <title>Third story</title>
    <link>%s/c</link>
  </item>
</channel>
</rss>`

type stubExtractor struct {
	texts map[string]string
}

func (s stubExtractor) Extract(_ context.Context, rawURL string) (sources.Article, error) {
	text, ok := s.texts[rawURL]
	if !ok {
		return sources.Article{}, errors.New("fetch failed")
	}
	return sources.Article{Text: text}, nil
}

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(strings.ReplaceAll(body, "%s", srv.URL)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSFetchTakesFirstEntries(t *testing.T) {
	srv := newFeedServer(t, rssFeed)

	f := sources.NewRSS([]string{srv.URL}, 2, nil, testOptions(), nil)
	items := f.Fetch(context.Background(), "ignored query")
	require.Len(t, items, 2)

	require.Equal(t, "Fed holds rates", items[0].Title)
	require.Equal(t, "The Fed held rates steady.", items[0].Content)
	require.Equal(t, "Yahoo Finance", items[0].Source)
	require.Equal(t, "Reporter One", items[0].Author)
	require.Equal(t, "2026-10-14T10:00:00Z", items[0].PublishedAt)
	require.Equal(t, srv.URL+"/a", items[0].URL)

	require.Equal(t, "Yahoo Finance", items[1].Source)
	require.Equal(t, "Brent rose 3%.", items[1].Content)
	require.Empty(t, items[1].PublishedAt)
}

func TestRSSFullArticleFallsBackToSummary(t *testing.T) {
	srv := newFeedServer(t, rssFeed)

	ex := stubExtractor{texts: map[string]string{srv.URL + "/a": "Full article body about the Fed decision."}}
	f := sources.NewRSS([]string{srv.URL}, 2, ex, testOptions(), nil)
	items := f.Fetch(context.Background(), "")
	require.Len(t, items, 2)
	require.Equal(t, "Full article body about the Fed decision.", items[0].Content)
	require.Equal(t, "Brent rose 3%.", items[1].Content)
}

func TestRSSParsesAtom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Markets Blog</title>
  <entry>
    <title>Bond yields climb</title>
    <link rel="alternate" href="https://example.com/yields"/>
    <summary>Ten-year yield hits 4.5%.</summary>
    <updated>2026-10-10T08:00:00Z</updated>
    <author><name>Analyst</name></author>
  </entry>
</feed>`
	srv := newFeedServer(t, atom)

	f := sources.NewRSS([]string{srv.URL}, 5, nil, testOptions(), nil)
	items := f.Fetch(context.Background(), "")
	require.Len(t, items, 1)
	require.Equal(t, "Bond yields climb", items[0].Title)
	require.Equal(t, "https://example.com/yields", items[0].URL)
	require.Equal(t, "Markets Blog", items[0].Source)
	require.Equal(t, "Analyst", items[0].Author)
	require.Equal(t, "2026-10-10T08:00:00Z", items[0].PublishedAt)
}

func TestRSSParsesRDF(t *testing.T) {
	rdf := `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns="http://purl.org/rss/1.0/"
         xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel rdf:about="https://example.com/">
    <title>Wire Service</title>
    <link>https://example.com/</link>
    <description>Market wire</description>
    <items>
      <rdf:Seq><rdf:li rdf:resource="https://example.com/earnings"/></rdf:Seq>
    </items>
  </channel>
  <item rdf:about="https://example.com/earnings">
    <title>Earnings season opens</title>
    <link>https://example.com/earnings</link>
    <description>Banks report first.</description>
    <dc:date>2026-10-12T13:30:00Z</dc:date>
    <dc:creator>Desk Editor</dc:creator>
  </item>
</rdf:RDF>`
	srv := newFeedServer(t, rdf)

	f := sources.NewRSS([]string{srv.URL}, 5, nil, testOptions(), nil)
	items := f.Fetch(context.Background(), "")
	require.Len(t, items, 1)
	require.Equal(t, "Earnings season opens", items[0].Title)
	require.Equal(t, "https://example.com/earnings", items[0].URL)
	require.Equal(t, "Banks report first.", items[0].Content)
	require.Equal(t, "Wire Service", items[0].Source)
	require.Equal(t, "Desk Editor", items[0].Author)
	require.Equal(t, "2026-10-12T13:30:00Z", items[0].PublishedAt)
}

func TestRSSBrokenFeedYieldsEmpty(t *testing.T) {
	srv := newFeedServer(t, "<html>not a feed</html>")

	f := sources.NewRSS([]string{srv.URL}, 5, nil, testOptions(), nil)
	require.Empty(t, f.Fetch(context.Background(), ""))
}

const articlePage = `<!DOCTYPE html>
<html><head><title>Chipmakers rally on AI demand</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Chipmakers rally on AI demand</h1>
<p>Shares of semiconductor companies rallied on Tuesday after several large cloud providers raised their capital spending plans for the coming year, citing sustained demand for artificial intelligence infrastructure.</p>
<p>Analysts said the guidance points to another year of strong orders for accelerators and high bandwidth memory, and several brokerages lifted their price targets on the sector leaders following the announcements.</p>
<p>The broader market also gained, with the benchmark index closing at a record high as investors rotated back into technology names after a volatile month marked by concerns over interest rates.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func newArticleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/news/chips", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/private/report", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestArticleExtractorExtractsText(t *testing.T) {
	srv := newArticleServer(t)

	ex := sources.NewArticleExtractor(testOptions(), nil)
	art, err := ex.Extract(context.Background(), srv.URL+"/news/chips")
	require.NoError(t, err)
	require.Contains(t, art.Text, "semiconductor companies rallied")
	require.NotContains(t, art.Text, "Copyright")
	require.Equal(t, srv.URL+"/news/chips", art.URL)
}

func TestArticleExtractorRespectsRobots(t *testing.T) {
	srv := newArticleServer(t)

	ex := sources.NewArticleExtractor(testOptions(), nil)
	_, err := ex.Extract(context.Background(), srv.URL+"/private/report")
	require.ErrorIs(t, err, sources.ErrDisallowed)
}

func TestArticleExtractorMissingPage(t *testing.T) {
	srv := newArticleServer(t)

	ex := sources.NewArticleExtractor(testOptions(), nil)
	_, err := ex.Extract(context.Background(), srv.URL+"/news/missing")
	require.Error(t, err)
}
