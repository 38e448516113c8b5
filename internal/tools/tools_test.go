package tools

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
	"github.com/leonardcser/tiercache/internal/metrics"
	"github.com/leonardcser/tiercache/internal/web"
)

func TestMain(m *testing.M) {
	logger.InitWriter(io.Discard)
	os.Exit(m.Run())
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func newStack(t *testing.T) (*cache.Manager, *dependency.Tracker) {
	t.Helper()
	m, err := cache.New(cache.DefaultConfig(), kv.NewMemory(nil, 0))
	require.NoError(t, err)
	tr, err := dependency.New(m, dependency.DefaultConfig())
	require.NoError(t, err)
	return m, tr
}

func TestCacheInvalidate_Host(t *testing.T) {
	ctx := context.Background()
	m, tr := newStack(t)
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		m.Set(ctx, u, []byte("{}"), cache.WithNamespace(web.FetchNamespace))
		require.NoError(t, tr.Register(ctx, u, "example.com",
			dependency.WithNamespace(web.FetchNamespace), dependency.WithSourceNamespace(web.HostNamespace)))
	}

	text, isErr := call(t, CacheInvalidateHandler(m, tr), map[string]any{"host": "example.com"})
	assert.False(t, isErr)
	assert.Equal(t, "Invalidated 2 cached pages from example.com", text)

	_, ok := m.Get(ctx, "https://example.com/a", cache.WithNamespace(web.FetchNamespace))
	assert.False(t, ok)
}

func TestCacheInvalidate_KeyAndPattern(t *testing.T) {
	ctx := context.Background()
	m, tr := newStack(t)
	m.Set(ctx, "1", []byte("x"), cache.WithNamespace("user"))
	m.Set(ctx, "2", []byte("x"), cache.WithNamespace("user"))

	text, isErr := call(t, CacheInvalidateHandler(m, tr), map[string]any{"key": "1", "namespace": "user"})
	assert.False(t, isErr)
	assert.Equal(t, "Invalidated 1 cache entries for user:1", text)

	_, isErr = call(t, CacheInvalidateHandler(m, tr), map[string]any{"pattern": "*", "namespace": "user"})
	assert.False(t, isErr)
	assert.Empty(t, m.ScanPattern(ctx, "user:*"))

	_, isErr = call(t, CacheInvalidateHandler(m, tr), map[string]any{"all": true})
	assert.False(t, isErr)
}

func TestCacheInvalidate_RequiresOneSelector(t *testing.T) {
	m, tr := newStack(t)
	_, isErr := call(t, CacheInvalidateHandler(m, tr), map[string]any{})
	assert.True(t, isErr)
	_, isErr = call(t, CacheInvalidateHandler(m, tr), map[string]any{"key": "a", "all": true})
	assert.True(t, isErr)
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	m, _ := newStack(t)
	m.Set(ctx, "k", []byte("v"))
	m.Get(ctx, "k")
	m.Get(ctx, "missing")

	c, err := metrics.New(m, metrics.DefaultConfig())
	require.NoError(t, err)
	c.Collect()

	text, isErr := call(t, CacheStatsHandler(m, c), map[string]any{"recent": 5})
	require.False(t, isErr)

	var report StatsReport
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.Equal(t, int64(1), report.Stats.Hits)
	assert.Equal(t, int64(1), report.Stats.Misses)
	assert.Equal(t, 1, report.Aggregated.Samples)
	assert.Len(t, report.Recent, 1)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, metrics.MetricHitRate, report.Alerts[0].Metric)

	_, isErr = call(t, CacheStatsHandler(m, c), map[string]any{"window": "soon"})
	assert.True(t, isErr)
}

func TestFormatSearchResults(t *testing.T) {
	assert.Equal(t, "No results.", formatSearchResults(nil))
	out := formatSearchResults([]web.SearchResult{
		{Title: "A", Link: "https://a", Description: "first"},
		{Title: "B", Link: "https://b"},
	})
	assert.Equal(t, "1. A\n   https://a\n   first\n\n2. B\n   https://b", out)
}

func TestFormatPageSummary(t *testing.T) {
	out := formatPageSummary(&web.PageSummary{
		Title:       "T",
		Description: "D",
		Links:       []string{"https://x"},
		Text:        "body",
	})
	assert.Equal(t, "# T\n\nD\n\n## Links\n- https://x\n\nbody", out)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "hello", clip("hello", 0))
	assert.Equal(t, "hello", clip("hello", 5))
	assert.Equal(t, "he\n\n[truncated]", clip("hello", 2))
	// never splits a multi-byte rune
	assert.Equal(t, "h\n\n[truncated]", clip("héllo", 2))
}

func TestWebSearch_LimitBounds(t *testing.T) {
	m, _ := newStack(t)
	h := WebSearchHandler(web.NewSearcher(m, time.Minute).WithEndpoint("http://127.0.0.1:0"))
	for _, limit := range []int{0, 21} {
		text, isErr := call(t, h, map[string]any{"query": "go", "limit": limit})
		assert.True(t, isErr)
		assert.Contains(t, text, "limit must be between 1 and 20")
	}
}

func TestWebFetch_RejectsNegativeMaxLength(t *testing.T) {
	m, tr := newStack(t)
	h := WebFetchHandler(web.NewFetcher(m, tr, time.Minute), tr)
	_, isErr := call(t, h, map[string]any{"url": "https://example.com", "max_length": -1})
	assert.True(t, isErr)
}
