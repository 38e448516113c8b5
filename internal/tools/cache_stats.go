package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/metrics"
)

// StatsReport is the JSON document returned by the "cache-stats" tool.
type StatsReport struct {
	Stats      cache.Stats       `json:"stats"`
	Window     string            `json:"window"`
	Aggregated metrics.Aggregate `json:"aggregated"`
	Alerts     []metrics.Alert   `json:"alerts"`
	Recent     []metrics.Sample  `json:"recent,omitempty"`
}

// CacheStatsHandler returns the MCP tool handler for the "cache-stats" tool.
func CacheStatsHandler(m *cache.Manager, c *metrics.Collector) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		window := time.Hour
		if raw := req.GetString("window", ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				return mcp.NewToolResultError("window must be a positive duration such as 15m or 2h"), nil
			}
			window = d
		}
		report := StatsReport{
			Stats:      m.GetStats(),
			Window:     window.String(),
			Aggregated: c.Aggregated(window),
			Alerts:     c.Alerts(),
			Recent:     c.Recent(req.GetInt("recent", 0)),
		}
		if report.Alerts == nil {
			report.Alerts = []metrics.Alert{}
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
