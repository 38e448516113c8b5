package config

import (
	"github.com/jmgilman/go/errors"
	"github.com/spf13/cast"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// envBinding ties one TIERCACHE_* variable to a Config field.
type envBinding struct {
	name string
	set  func(c *Config, raw string) error
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}
}

var envBindings = []envBinding{
	{"MEMORY_CACHE_SIZE", intVar(func(c *Config) *int { return &c.MemoryCacheSize })},
	{"TIER2_TTL_SECONDS", intVar(func(c *Config) *int { return &c.Tier2TTLSeconds })},
	{"TIER1_TTL_SECONDS", intVar(func(c *Config) *int { return &c.Tier1TTLSeconds })},
	{"ENABLE_COMPRESSION", boolVar(func(c *Config) *bool { return &c.EnableCompression })},
	{"COMPRESSION_MIN_SIZE_BYTES", intVar(func(c *Config) *int { return &c.CompressionMinSizeBytes })},
	{"COMPRESSION_LEVEL", intVar(func(c *Config) *int { return &c.CompressionLevel })},
	{"ENABLE_ADAPTIVE_TTL", boolVar(func(c *Config) *bool { return &c.EnableAdaptiveTTL })},
	{"TTL_MIN_FACTOR", floatVar(func(c *Config) *float64 { return &c.TTLMinFactor })},
	{"TTL_MAX_FACTOR", floatVar(func(c *Config) *float64 { return &c.TTLMaxFactor })},
	{"TTL_SIZE_THRESHOLD", intVar(func(c *Config) *int { return &c.TTLSizeThreshold })},
	{"DEPENDENCY_TTL_SECONDS", intVar(func(c *Config) *int { return &c.DependencyTTLSeconds })},
	{"MAX_DEPENDENCIES_PER_KEY", intVar(func(c *Config) *int { return &c.MaxDependenciesPerKey })},
	{"DEPENDENCY_CLEANUP_INTERVAL_SECONDS", intVar(func(c *Config) *int { return &c.DependencyCleanupIntervalSeconds })},
	{"METRICS_COLLECTION_INTERVAL_SECONDS", intVar(func(c *Config) *int { return &c.MetricsCollectionIntervalSeconds })},
	{"METRICS_RETENTION_SECONDS", intVar(func(c *Config) *int { return &c.MetricsRetentionSeconds })},
	{"KEY_PREFIX", stringVar(func(c *Config) *string { return &c.KeyPrefix })},
	{"UNSCOPED_INVALIDATE_ALL", boolVar(func(c *Config) *bool { return &c.UnscopedInvalidateAll })},
	{"TIER2_TIMEOUT_MILLIS", intVar(func(c *Config) *int { return &c.Tier2TimeoutMillis })},
	{"TIER1_CLEANUP_INTERVAL_SECONDS", intVar(func(c *Config) *int { return &c.Tier1CleanupIntervalSeconds })},
	{"FETCH_TTL_SECONDS", intVar(func(c *Config) *int { return &c.FetchTTLSeconds })},
	{"SEARCH_TTL_SECONDS", intVar(func(c *Config) *int { return &c.SearchTTLSeconds })},
	{"CACHE_SOCK", stringVar(func(c *Config) *string { return &c.SocketPath })},
	{"CACHE_DB", stringVar(func(c *Config) *string { return &c.DBPath })},
	{"LOG", stringVar(func(c *Config) *string { return &c.LogPath })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.LogLevel })},
}

// applyEnv overrides fields from TIERCACHE_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	for _, b := range envBindings {
		raw, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(c, raw); err != nil {
			return errors.Wrapf(err, errors.CodeInvalidConfig, "environment variable %s%s", EnvPrefix, b.name)
		}
	}
	return nil
}
