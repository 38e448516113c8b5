package web

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/logger"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 1 * 1024 * 1024 // 1MB
	maxLinks        = 50
)

// Cache namespaces used by the web tools.
const (
	FetchNamespace  = "web_fetch"
	SearchNamespace = "web_search"
	HostNamespace   = "host"
)

// Cache is the part of *cache.Manager the web tools use.
type Cache interface {
	GetJSON(ctx context.Context, key string, out any, opts ...cache.Option) bool
	SetJSON(ctx context.Context, key string, v any, opts ...cache.Option) bool
}

// Registrar records that a cached page was derived from a host.
type Registrar interface {
	Register(ctx context.Context, key, dependsOn string, opts ...dependency.Option) error
}

type PageSummary struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Text        string   `json:"text"`
	Links       []string `json:"links"`
}

// Fetcher downloads pages and caches their summaries. Concurrent fetches of
// the same URL share one download.
type Fetcher struct {
	c     *colly.Collector
	cache Cache
	deps  Registrar
	ttl   time.Duration
	group singleflight.Group
}

// NewFetcher creates a Fetcher. deps may be nil, in which case pages are not
// linked to their host.
func NewFetcher(c Cache, deps Registrar, ttl time.Duration) *Fetcher {
	col := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	_ = col.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       1 * time.Second,
	})
	col.SetRequestTimeout(RequestTimeout)
	return &Fetcher{c: col, cache: c, deps: deps, ttl: ttl}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, errors.New(errors.CodeInvalidInput, "url must start with http:// or https://")
	}

	var cached PageSummary
	if f.cache.GetJSON(ctx, rawURL, &cached, cache.WithNamespace(FetchNamespace)) {
		logger.Debugf("web: fetch cache hit for %s", rawURL)
		return &cached, nil
	}

	// The download is shared by every caller waiting on rawURL, so it must not
	// end when the first of them gives up.
	ch := f.group.DoChan(rawURL, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RequestTimeout)
		defer cancel()
		ps, err := f.download(dctx, rawURL)
		if err != nil {
			return nil, err
		}
		f.store(dctx, rawURL, ps)
		return ps, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debugf("web: shared in-flight fetch of %s", rawURL)
		}
		ps := *res.Val.(*PageSummary)
		return &ps, nil
	}
}

func (f *Fetcher) store(ctx context.Context, rawURL string, ps *PageSummary) {
	if !f.cache.SetJSON(ctx, rawURL, ps, cache.WithNamespace(FetchNamespace), cache.WithTTL(f.ttl)) {
		logger.Warnf("web: page %s cached locally only", rawURL)
	}
	if f.deps == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return
	}
	err = f.deps.Register(ctx, rawURL, u.Hostname(),
		dependency.WithNamespace(FetchNamespace),
		dependency.WithSourceNamespace(HostNamespace),
		dependency.WithTTL(f.ttl),
	)
	if err != nil {
		logger.Warnf("web: link %s to host %s: %v", rawURL, u.Hostname(), err)
	}
}

// download visits rawURL on a clone of the shared collector, so rate limits
// apply across calls while callbacks stay per request.
func (f *Fetcher) download(ctx context.Context, rawURL string) (*PageSummary, error) {
	col := f.c.Clone()
	col.Context = ctx
	col.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(*r.Headers, r.URL.Hostname())
	})

	var (
		body        []byte
		finalURL    string
		contentType string
	)
	col.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil {
			return
		}
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})

	if err := col.Visit(rawURL); err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "fetch %s", rawURL)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return parsePage(finalURL, contentType, body)
}

// parsePage turns a response body into a PageSummary. HTML is stripped of
// non-content elements and converted to Markdown; other text is kept as is.
func parsePage(finalURL, contentType string, body []byte) (*PageSummary, error) {
	if len(body) == 0 {
		return nil, errors.New(errors.CodeNotFound, "empty response body")
	}
	if len(body) > MaxResponseSize {
		body = append(body[:MaxResponseSize:MaxResponseSize], []byte("... [response trimmed due to size]")...)
	}

	lowerCT := strings.ToLower(contentType)
	if !strings.HasPrefix(lowerCT, "text/") {
		return nil, errors.New(errors.CodeInvalidInput,
			"unsupported content type: binary files like images or PDFs are not supported")
	}
	ps := &PageSummary{URL: finalURL}
	if !strings.Contains(lowerCT, "text/html") {
		ps.Text = string(body)
		return ps, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "parse html")
	}

	// Remove non-visible elements
	doc.Find("script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress, ins, applet").Remove()

	ps.Title = strings.TrimSpace(doc.Find("head > title").First().Text())
	ps.Description = strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", ""))
	plainText := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	ps.Links = extractLinks(doc, finalURL)

	doc.Find("a").Remove()
	doc.Find("header, footer, aside").Remove()

	htmlStr, err := doc.Html()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "render html")
	}
	if markdown, err := htmltomarkdown.ConvertString(htmlStr); err == nil {
		ps.Text = markdown
	} else {
		ps.Text = plainText
	}
	return ps, nil
}

// extractLinks returns up to maxLinks absolute, fragment-free links, sorted.
func extractLinks(doc *goquery.Document, finalURL string) []string {
	base, _ := url.Parse(finalURL)
	set := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() && base != nil {
			u = base.ResolveReference(u)
		}
		switch u.Scheme {
		case "", "javascript", "mailto", "tel":
			return
		}
		u.Fragment = ""
		set[u.String()] = struct{}{}
	})

	links := make([]string, 0, len(set))
	for l := range set {
		links = append(links, l)
	}
	sort.Strings(links)
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}
