package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/config"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
	"github.com/leonardcser/tiercache/internal/metrics"
	tools "github.com/leonardcser/tiercache/internal/tools"
	web "github.com/leonardcser/tiercache/internal/web"
)

const daemonBinary = "tiercache-cache"

func main() {
	cfg, err := config.Load(os.Getenv("TIERCACHE_CONFIG"))
	if err != nil {
		panic(err)
	}
	if err := initLogger(cfg); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting tiercache MCP server")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := connectTier2(ctx, cfg)

	manager, err := cache.New(cfg.CacheConfig(), store)
	if err != nil {
		logger.Errorf("cache manager: %v", err)
		panic(err)
	}
	manager.Start(ctx)
	defer manager.Stop()

	tracker, err := dependency.New(manager, cfg.DependencyConfig())
	if err != nil {
		logger.Errorf("dependency tracker: %v", err)
		panic(err)
	}

	collector, err := metrics.New(manager, cfg.MetricsConfig())
	if err != nil {
		logger.Errorf("metrics collector: %v", err)
		panic(err)
	}
	collector.Start(ctx)
	defer collector.Stop()

	fetcher := web.NewFetcher(manager, tracker, cfg.FetchTTL())
	searcher := web.NewSearcher(manager, cfg.SearchTTL())
	logger.Infof("Initialized web fetcher and searcher on the tiered cache")

	s := server.NewMCPServer(
		"tiercache",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	toolFetch := mcp.NewTool("web-fetch",
		mcp.WithDescription(multiline(
			"Fetches content from a specified URL and returns the parsed content",
			"\nFunctionality:",
			"- Takes a URL as input",
			"- Fetches the URL content and parses it",
			"- Returns the structured content including title, description, text, and links",
			"\nUsage notes:",
			"- The URL must be a fully-formed valid URL",
			"- This tool is read-only and does not modify any files",
			"- Pages are cached in a two-tier cache shared with other server instances",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to fetch content from")),
		mcp.WithBoolean("refresh", mcp.Description("Drop the cached copy and fetch the page again")),
		mcp.WithNumber("max_length", mcp.Description("Truncate the returned content to this many bytes")),
	)
	s.AddTool(toolFetch, tools.WebFetchHandler(fetcher, tracker))

	toolSearch := mcp.NewTool("web-search",
		mcp.WithDescription(multiline(
			"Allows you to search the web and use the results to inform responses",
			"\nFunctionality:",
			"- Provides up-to-date information for current events and recent data",
			"- Returns search result information formatted as search result blocks",
			"\nUsage notes:",
			"- Account for Today's date in environment (e.g., use 2025 when appropriate)",
		)),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query to use")),
		mcp.WithNumber("limit", mcp.Description("Number of results to return, 1 to 20 (default 10)")),
	)
	s.AddTool(toolSearch, tools.WebSearchHandler(searcher))

	toolStats := mcp.NewTool("cache-stats",
		mcp.WithDescription(multiline(
			"Reports cache health: hit rate, tier usage, windowed aggregates and active alerts",
			"\nUsage notes:",
			"- Aggregates cover the last hour unless a window is given",
			"- Pass recent to include the latest raw samples",
		)),
		mcp.WithString("window", mcp.Description("Aggregation window as a duration, e.g. 15m or 2h")),
		mcp.WithNumber("recent", mcp.Description("Number of recent samples to include")),
	)
	s.AddTool(toolStats, tools.CacheStatsHandler(manager, collector))

	toolInvalidate := mcp.NewTool("cache-invalidate",
		mcp.WithDescription(multiline(
			"Drops cached entries so the next request refetches them",
			"\nUsage notes:",
			"- Give exactly one of url, host, key, pattern or all",
			"- host drops every cached page fetched from that host",
			"- key cascades to entries registered as depending on it",
			"- pattern uses '*' as the only wildcard",
		)),
		mcp.WithString("url", mcp.Description("A fetched URL to drop")),
		mcp.WithString("host", mcp.Description("Drop all pages fetched from this host")),
		mcp.WithString("key", mcp.Description("A cache key to drop along with its dependents")),
		mcp.WithString("namespace", mcp.Description("Namespace for key or pattern")),
		mcp.WithString("pattern", mcp.Description("Glob over cache keys")),
		mcp.WithBoolean("all", mcp.Description("Drop every entry owned by this server")),
	)
	s.AddTool(toolInvalidate, tools.CacheInvalidateHandler(manager, tracker))
	logger.Infof("Registered web-fetch, web-search, cache-stats and cache-invalidate tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func initLogger(cfg config.Config) error {
	var err error
	if cfg.LogPath != "" {
		err = logger.Init(cfg.LogPath)
	} else {
		err = logger.InitFromEnv()
	}
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}

// connectTier2 returns a client for the cache daemon, starting the daemon
// when it is not running. If it cannot be reached the server keeps a
// process-local tier 2.
func connectTier2(ctx context.Context, cfg config.Config) kv.KV {
	timeout := time.Duration(cfg.Tier2TimeoutMillis) * time.Millisecond
	client := kv.NewClient(cfg.SocketPath).WithTimeout(timeout)

	logger.Infof("Attempting to connect to cache daemon at %s", cfg.SocketPath)
	err := client.Ping(ctx)
	if err == nil {
		logger.Infof("Connected to cache daemon")
		return client
	}
	logger.Warnf("Failed to connect to cache daemon: %v, attempting to start daemon", err)

	if err := startCacheDaemon(); err != nil {
		logger.Errorf("Failed to start cache daemon: %v", err)
	} else {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if err := client.Ping(ctx); err == nil {
				logger.Infof("Cache daemon started and connected")
				return client
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
	logger.Warnf("Cache daemon unavailable, using a process-local shared tier")
	return kv.NewMemory(nil, cfg.CacheConfig().Tier2TTL)
}

func startCacheDaemon() error {
	// 1) Try cache binary next to this server executable (works with absolute invocation)
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), daemonBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return spawn(sibling)
		}
	}
	// 2) Try PATH binary
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return spawn(path)
	}
	// 3) Try local binary in current working directory (best-effort)
	if _, err := os.Stat("./" + daemonBinary); err == nil {
		return spawn("./" + daemonBinary)
	}
	return exec.ErrNotFound
}

func spawn(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()
	return cmd.Start()
}
