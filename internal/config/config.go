// Package config loads server configuration from defaults, an optional YAML
// file and TIERCACHE_* environment variables, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/dependency"
	"github.com/leonardcser/tiercache/internal/logger"
	"github.com/leonardcser/tiercache/internal/metrics"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TIERCACHE_"

// Config is the full configuration surface. Durations are whole seconds
// unless the field name says otherwise.
type Config struct {
	MemoryCacheSize         int     `yaml:"memoryCacheSize"`
	Tier2TTLSeconds         int     `yaml:"tier2TtlSeconds"`
	Tier1TTLSeconds         int     `yaml:"tier1TtlSeconds"`
	EnableCompression       bool    `yaml:"enableCompression"`
	CompressionMinSizeBytes int     `yaml:"compressionMinSizeBytes"`
	CompressionLevel        int     `yaml:"compressionLevel"`
	EnableAdaptiveTTL       bool    `yaml:"enableAdaptiveTtl"`
	TTLMinFactor            float64 `yaml:"ttlMinFactor"`
	TTLMaxFactor            float64 `yaml:"ttlMaxFactor"`
	TTLSizeThreshold        int     `yaml:"ttlSizeThreshold"`

	DependencyTTLSeconds             int `yaml:"dependencyTtlSeconds"`
	MaxDependenciesPerKey            int `yaml:"maxDependenciesPerKey"`
	DependencyCleanupIntervalSeconds int `yaml:"dependencyCleanupIntervalSeconds"`

	MetricsCollectionIntervalSeconds int `yaml:"metricsCollectionIntervalSeconds"`
	MetricsRetentionSeconds          int `yaml:"metricsRetentionSeconds"`

	KeyPrefix                   string `yaml:"keyPrefix"`
	UnscopedInvalidateAll       bool   `yaml:"unscopedInvalidateAll"`
	Tier2TimeoutMillis          int    `yaml:"tier2TimeoutMillis"`
	Tier1CleanupIntervalSeconds int    `yaml:"tier1CleanupIntervalSeconds"`

	// FetchTTLSeconds and SearchTTLSeconds are the cache lifetimes of web
	// pages and search results.
	FetchTTLSeconds  int `yaml:"fetchTtlSeconds"`
	SearchTTLSeconds int `yaml:"searchTtlSeconds"`

	SocketPath string `yaml:"socketPath"`
	DBPath     string `yaml:"dbPath"`
	LogPath    string `yaml:"logPath"`
	LogLevel   string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MemoryCacheSize:                  1000,
		Tier2TTLSeconds:                  3600,
		Tier1TTLSeconds:                  300,
		EnableCompression:                true,
		CompressionMinSizeBytes:          1024,
		CompressionLevel:                 6,
		EnableAdaptiveTTL:                true,
		TTLMinFactor:                     0.5,
		TTLMaxFactor:                     2.0,
		TTLSizeThreshold:                 10000,
		DependencyTTLSeconds:             86400,
		MaxDependenciesPerKey:            1000,
		DependencyCleanupIntervalSeconds: 3600,
		MetricsCollectionIntervalSeconds: 60,
		MetricsRetentionSeconds:          86400,
		KeyPrefix:                        "tiercache:",
		Tier2TimeoutMillis:               500,
		Tier1CleanupIntervalSeconds:      60,
		FetchTTLSeconds:                  900,
		SearchTTLSeconds:                 300,
		SocketPath:                       defaultCachePath("cache.sock"),
		DBPath:                           defaultCachePath("cache.bbolt"),
		LogLevel:                         "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "parse config file %s", path)
			}
		case !os.IsNotExist(err):
			return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "read config file %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports the first problem found.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New(errors.CodeInvalidConfig, "socket path must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "log level")
	}
	if c.FetchTTLSeconds <= 0 || c.SearchTTLSeconds <= 0 {
		return errors.New(errors.CodeInvalidConfig, "fetch and search ttl must be greater than 0")
	}
	cc := c.CacheConfig()
	if err := cc.Validate(); err != nil {
		return err
	}
	dc := c.DependencyConfig()
	if err := dc.Validate(); err != nil {
		return err
	}
	mc := c.MetricsConfig()
	return mc.Validate()
}

// CacheConfig maps the cache fields onto cache.Config.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		MemoryCacheSize:       c.MemoryCacheSize,
		Tier1TTL:              seconds(c.Tier1TTLSeconds),
		Tier2TTL:              seconds(c.Tier2TTLSeconds),
		EnableCompression:     c.EnableCompression,
		CompressionMinSize:    c.CompressionMinSizeBytes,
		CompressionLevel:      c.CompressionLevel,
		EnableAdaptiveTTL:     c.EnableAdaptiveTTL,
		TTLMinFactor:          c.TTLMinFactor,
		TTLMaxFactor:          c.TTLMaxFactor,
		TTLSizeThreshold:      c.TTLSizeThreshold,
		KeyPrefix:             c.KeyPrefix,
		UnscopedInvalidateAll: c.UnscopedInvalidateAll,
		Tier2Timeout:          time.Duration(c.Tier2TimeoutMillis) * time.Millisecond,
		CleanupInterval:       seconds(c.Tier1CleanupIntervalSeconds),
	}
}

// DependencyConfig maps the dependency fields onto dependency.Config.
func (c Config) DependencyConfig() dependency.Config {
	return dependency.Config{
		DefaultTTL:            seconds(c.DependencyTTLSeconds),
		MaxDependenciesPerKey: c.MaxDependenciesPerKey,
		CleanupInterval:       seconds(c.DependencyCleanupIntervalSeconds),
	}
}

// MetricsConfig maps the metrics fields onto metrics.Config.
func (c Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		CollectionInterval: seconds(c.MetricsCollectionIntervalSeconds),
		Retention:          seconds(c.MetricsRetentionSeconds),
	}
}

// FetchTTL is the cache lifetime of fetched pages.
func (c Config) FetchTTL() time.Duration { return seconds(c.FetchTTLSeconds) }

// SearchTTL is the cache lifetime of search results.
func (c Config) SearchTTL() time.Duration { return seconds(c.SearchTTLSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func defaultCachePath(name string) string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "tiercache", name)
}
