package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	web "github.com/leonardcser/tiercache/internal/web"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 20
)

// WebSearchHandler returns the MCP tool handler for the "web-search" tool.
func WebSearchHandler(searcher *web.Searcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := req.GetInt("limit", defaultSearchLimit)
		if limit < 1 || limit > maxSearchLimit {
			return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit)), nil
		}
		results, err := searcher.Search(ctx, q, limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatSearchResults(results)), nil
	}
}

// formatSearchResults renders a numbered list, one block per result.
func formatSearchResults(results []web.SearchResult) string {
	if len(results) == 0 {
		return "No results."
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		block := fmt.Sprintf("%d. %s\n   %s", i+1, r.Title, r.Link)
		if r.Description != "" {
			block += "\n   " + r.Description
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}
