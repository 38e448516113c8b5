package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitWriter(io.Discard)
	os.Exit(m.Run())
}

const samplePage = `<html>
<head><title> Example Page </title><meta name="description" content="An example."></head>
<body>
<header>site header</header>
<script>var x = 1;</script>
<h1>Hello</h1>
<p>Some <b>body</b> text.</p>
<a href="/about#team">About</a>
<a href="https://other.example/x">Other</a>
<a href="mailto:me@example.com">Mail</a>
<a href="javascript:void(0)">JS</a>
</body></html>`

func newStack(t *testing.T) (*cache.Manager, *dependency.Tracker) {
	t.Helper()
	m, err := cache.New(cache.DefaultConfig(), kv.NewMemory(nil, 0))
	require.NoError(t, err)
	tr, err := dependency.New(m, dependency.DefaultConfig())
	require.NoError(t, err)
	return m, tr
}

func TestParsePage_HTML(t *testing.T) {
	ps, err := parsePage("https://example.com/index.html", "text/html; charset=utf-8", []byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Example Page", ps.Title)
	assert.Equal(t, "An example.", ps.Description)
	assert.Equal(t, []string{"https://example.com/about", "https://other.example/x"}, ps.Links)
	assert.Contains(t, ps.Text, "Hello")
	assert.Contains(t, ps.Text, "**body**")
	assert.NotContains(t, ps.Text, "var x")
	assert.NotContains(t, ps.Text, "site header")
}

func TestParsePage_PlainText(t *testing.T) {
	ps, err := parsePage("https://example.com/a.txt", "text/plain", []byte("just text"))
	require.NoError(t, err)
	assert.Equal(t, "just text", ps.Text)
	assert.Empty(t, ps.Links)
}

func TestParsePage_Rejects(t *testing.T) {
	_, err := parsePage("https://example.com/a.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.Error(t, err)

	_, err = parsePage("https://example.com/", "text/html", nil)
	assert.Error(t, err)
}

func TestFetcher_CachesAndInvalidatesByHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	ctx := context.Background()
	m, tr := newStack(t)
	f := NewFetcher(m, tr, cache.DefaultConfig().Tier2TTL)

	first, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	second, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, []string{FetchNamespace + ":" + srv.URL},
		tr.Dependencies(ctx, "127.0.0.1", dependency.WithSourceNamespace(HostNamespace)))

	n := tr.InvalidateWithDependencies(ctx, "127.0.0.1", dependency.WithNamespace(HostNamespace))
	assert.Equal(t, 2, n)
	var ps PageSummary
	assert.False(t, m.GetJSON(ctx, srv.URL, &ps, cache.WithNamespace(FetchNamespace)))
}

func TestFetcher_RejectsBadScheme(t *testing.T) {
	m, _ := newStack(t)
	f := NewFetcher(m, nil, cache.DefaultConfig().Tier2TTL)
	_, err := f.Fetch(context.Background(), "ftp://example.com")
	assert.Error(t, err)
}

func ddgPage(n int) string {
	page := "<html><body>"
	for i := 0; i < n; i++ {
		page += fmt.Sprintf(`<div class="result results_links results_links_deep web-result">
<a class="result__a" href="//duckduckgo.com/l/?uddg=https%%3A%%2F%%2Fexample.com%%2F%d&rut=x">Result %d</a>
<a class="result__snippet">Snippet   %d</a></div>`, i, i, i)
	}
	return page + "</body></html>"
}

func TestSearcher_ParsesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "golang cache", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, ddgPage(15))
	}))
	defer srv.Close()

	ctx := context.Background()
	m, _ := newStack(t)
	s := NewSearcher(m, cache.DefaultConfig().Tier2TTL).WithEndpoint(srv.URL)

	results, err := s.Search(ctx, "  golang cache ", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, SearchResult{Title: "Result 0", Description: "Snippet 0", Link: "https://example.com/0"}, results[0])

	results, err = s.Search(ctx, "golang cache", 0)
	require.NoError(t, err)
	assert.Len(t, results, 10)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, _ := newStack(t)
	s := NewSearcher(m, cache.DefaultConfig().Tier2TTL).WithEndpoint(srv.URL)
	_, err := s.Search(context.Background(), "q", 5)
	assert.Error(t, err)

	_, err = s.Search(context.Background(), "   ", 5)
	assert.Error(t, err)
}

func TestExtractDDGURL(t *testing.T) {
	assert.Equal(t, "https://example.com", extractDDGURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&rut=abc"))
	assert.Equal(t, "https://plain.example", extractDDGURL("https://plain.example"))
}

func TestUserAgentFor_StablePerHost(t *testing.T) {
	ua := userAgentFor("Example.com")
	assert.Equal(t, ua, userAgentFor("example.com"))
	assert.Contains(t, userAgents, ua)

	h := http.Header{}
	setBrowserHeaders(h, "example.com")
	assert.Equal(t, ua, h.Get("User-Agent"))
	assert.NotEmpty(t, h.Get("Accept-Language"))
}

func TestFetcher_SharedDownloadSurvivesCallerCancel(t *testing.T) {
	var once sync.Once
	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	m, tr := newStack(t)
	f := NewFetcher(m, tr, cache.DefaultConfig().Tier2TTL)

	ctx1, cancel1 := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx1, srv.URL)
		firstErr <- err
	}()
	<-arrived
	cancel1()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		ps  *PageSummary
		err error
	}
	second := make(chan result, 1)
	go func() {
		ps, err := f.Fetch(context.Background(), srv.URL)
		second <- result{ps, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.ps)
	assert.NotEmpty(t, res.ps.Text)

	var cached PageSummary
	assert.True(t, m.GetJSON(context.Background(), srv.URL, &cached, cache.WithNamespace(FetchNamespace)))
}
