package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/logger"
)

// DefaultSearchEndpoint is the DuckDuckGo HTML endpoint.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// extractDDGURL extracts the actual URL from DuckDuckGo's redirect URL format
// Input: //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&rut=...
// Output: https://example.com
func extractDDGURL(ddgURL string) string {
	if strings.HasPrefix(ddgURL, "//duckduckgo.com/l/") {
		ddgURL = "https:" + ddgURL
	}
	u, err := url.Parse(ddgURL)
	if err != nil {
		return ddgURL
	}
	uddg := u.Query().Get("uddg")
	if uddg == "" {
		return ddgURL
	}
	actualURL, err := url.QueryUnescape(uddg)
	if err != nil {
		return ddgURL
	}
	return actualURL
}

type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

type Searcher struct {
	client   *http.Client
	endpoint string
	cache    Cache
	ttl      time.Duration
	group    singleflight.Group
}

func NewSearcher(c Cache, ttl time.Duration) *Searcher {
	return &Searcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: DefaultSearchEndpoint,
		cache:    c,
		ttl:      ttl,
	}
}

// WithEndpoint points the searcher at a different results page.
func (s *Searcher) WithEndpoint(endpoint string) *Searcher {
	s.endpoint = endpoint
	return s
}

func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.New(errors.CodeInvalidInput, "empty query")
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	var cached []SearchResult
	if s.cache.GetJSON(ctx, q, &cached, cache.WithNamespace(SearchNamespace)) {
		logger.Debugf("web: search cache hit for %q", q)
		return truncate(cached, limit), nil
	}

	v, err, _ := s.group.Do(q, func() (any, error) {
		results, err := s.query(ctx, q)
		if err != nil {
			return nil, err
		}
		if !s.cache.SetJSON(ctx, q, results, cache.WithNamespace(SearchNamespace), cache.WithTTL(s.ttl)) {
			logger.Warnf("web: results for %q cached locally only", q)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return truncate(v.([]SearchResult), limit), nil
}

// query fetches up to 20 results so that cached entries serve any limit.
func (s *Searcher) query(ctx context.Context, q string) ([]SearchResult, error) {
	const maxResults = 20
	values := url.Values{"q": {q}, "kl": {"us-en"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "build search request")
	}
	setBrowserHeaders(req.Header, req.URL.Hostname())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "search request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.CodeNetwork, "duckduckgo status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "parse search results")
	}

	results := make([]SearchResult, 0, maxResults)
	doc.Find("div.result.results_links.results_links_deep.web-result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		a := sel.Find("a.result__a").First()
		link := strings.TrimSpace(a.AttrOr("href", ""))
		title := singleLine(a.Text())
		desc := singleLine(sel.Find("a.result__snippet").First().Text())
		if title != "" && link != "" {
			results = append(results, SearchResult{Title: title, Description: desc, Link: extractDDGURL(link)})
		}
		return len(results) < maxResults
	})

	if len(results) == 0 {
		// Fallback: scan anchor list and nearest snippet up the tree
		doc.Find("a.result__a").EachWithBreak(func(_ int, n *goquery.Selection) bool {
			title := singleLine(n.Text())
			link := strings.TrimSpace(n.AttrOr("href", ""))
			desc := singleLine(n.Parents().Find("a.result__snippet").First().Text())
			results = append(results, SearchResult{Title: title, Description: desc, Link: extractDDGURL(link)})
			return len(results) < maxResults
		})
	}
	return results, nil
}

func truncate(results []SearchResult, limit int) []SearchResult {
	if len(results) > limit {
		return append([]SearchResult(nil), results[:limit]...)
	}
	return append([]SearchResult(nil), results...)
}

// singleLine trims and collapses internal whitespace/newlines to single spaces.
func singleLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
