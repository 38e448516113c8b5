package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/tiercache/internal/dependency"
	web "github.com/leonardcser/tiercache/internal/web"
)

// Invalidator drops a cache entry and everything registered on it.
type Invalidator interface {
	InvalidateWithDependencies(ctx context.Context, key string, opts ...dependency.Option) int
}

// WebFetchHandler returns the MCP tool handler for the "web-fetch" tool.
// With refresh set the cached copy of the page is dropped before fetching.
func WebFetchHandler(fetcher *web.Fetcher, inv Invalidator) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		maxLen := req.GetInt("max_length", 0)
		if maxLen < 0 {
			return mcp.NewToolResultError("max_length must not be negative"), nil
		}

		if req.GetBool("refresh", false) && inv != nil {
			inv.InvalidateWithDependencies(ctx, url, dependency.WithNamespace(web.FetchNamespace))
		}

		ps, err := fetcher.Fetch(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(clip(formatPageSummary(ps), maxLen)), nil
	}
}

func formatPageSummary(ps *web.PageSummary) string {
	var parts []string
	if ps.Title != "" {
		parts = append(parts, "# "+ps.Title)
	}
	if ps.Description != "" {
		parts = append(parts, ps.Description)
	}
	if len(ps.Links) > 0 {
		var sb strings.Builder
		sb.WriteString("## Links")
		for _, l := range ps.Links {
			fmt.Fprintf(&sb, "\n- %s", l)
		}
		parts = append(parts, sb.String())
	}
	parts = append(parts, ps.Text)
	return strings.Join(parts, "\n\n")
}

// clip cuts s to at most n bytes on a rune boundary. n <= 0 means no limit.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut] + "\n\n[truncated]"
}
