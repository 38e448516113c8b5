package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/web"
)

// CacheInvalidateHandler returns the MCP tool handler for the
// "cache-invalidate" tool. Exactly one of url, host, key, pattern or all
// selects what is dropped.
func CacheInvalidateHandler(m *cache.Manager, t *dependency.Tracker) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			url     = req.GetString("url", "")
			host    = req.GetString("host", "")
			key     = req.GetString("key", "")
			ns      = req.GetString("namespace", "")
			pattern = req.GetString("pattern", "")
			all     = req.GetBool("all", false)
		)

		selected := 0
		for _, set := range []bool{url != "", host != "", key != "", pattern != "", all} {
			if set {
				selected++
			}
		}
		if selected != 1 {
			return mcp.NewToolResultError("specify exactly one of url, host, key, pattern or all"), nil
		}

		switch {
		case url != "":
			n := t.InvalidateWithDependencies(ctx, url, dependency.WithNamespace(web.FetchNamespace))
			return mcp.NewToolResultText(fmt.Sprintf("Invalidated %d cache entries for %s", n, url)), nil
		case host != "":
			// the host key itself is never cached, only its dependents
			n := t.InvalidateWithDependencies(ctx, host, dependency.WithNamespace(web.HostNamespace)) - 1
			return mcp.NewToolResultText(fmt.Sprintf("Invalidated %d cached pages from %s", n, host)), nil
		case key != "":
			n := t.InvalidateWithDependencies(ctx, key, dependency.WithNamespace(ns))
			return mcp.NewToolResultText(fmt.Sprintf("Invalidated %d cache entries for %s", n, cache.FullKey(key, ns))), nil
		case pattern != "":
			if !m.InvalidatePattern(ctx, pattern, cache.WithNamespace(ns)) {
				return mcp.NewToolResultError("pattern invalidation did not reach the shared cache"), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Invalidated entries matching %s", cache.FullKey(pattern, ns))), nil
		default:
			if !m.InvalidateAll(ctx) {
				return mcp.NewToolResultError("cache flush did not reach the shared cache"), nil
			}
			return mcp.NewToolResultText("Invalidated all cache entries"), nil
		}
	}
}
