package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cc := cfg.CacheConfig()
	assert.Equal(t, 1000, cc.MemoryCacheSize)
	assert.Equal(t, time.Hour, cc.Tier2TTL)
	assert.Equal(t, 5*time.Minute, cc.Tier1TTL)
	assert.Equal(t, 500*time.Millisecond, cc.Tier2Timeout)
	assert.Equal(t, "tiercache:", cc.KeyPrefix)

	dc := cfg.DependencyConfig()
	assert.Equal(t, 24*time.Hour, dc.DefaultTTL)
	assert.Equal(t, 1000, dc.MaxDependenciesPerKey)
	assert.Equal(t, time.Hour, dc.CleanupInterval)

	mc := cfg.MetricsConfig()
	assert.Equal(t, time.Minute, mc.CollectionInterval)
	assert.Equal(t, 24*time.Hour, mc.Retention)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memoryCacheSize: 50
enableCompression: false
ttlMaxFactor: 3.5
keyPrefix: "web:"
socketPath: /tmp/tc.sock
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MemoryCacheSize)
	assert.False(t, cfg.EnableCompression)
	assert.Equal(t, 3.5, cfg.TTLMaxFactor)
	assert.Equal(t, "web:", cfg.KeyPrefix)
	assert.Equal(t, "/tmp/tc.sock", cfg.SocketPath)
	assert.Equal(t, 300, cfg.Tier1TTLSeconds, "unset fields keep defaults")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MemoryCacheSize, cfg.MemoryCacheSize)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memoryCacheSize: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memoryCacheSize: 50\n"), 0o600))
	t.Setenv("TIERCACHE_MEMORY_CACHE_SIZE", "75")
	t.Setenv("TIERCACHE_ENABLE_ADAPTIVE_TTL", "false")
	t.Setenv("TIERCACHE_TTL_MIN_FACTOR", "0.25")
	t.Setenv("TIERCACHE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.MemoryCacheSize)
	assert.False(t, cfg.EnableAdaptiveTTL)
	assert.Equal(t, 0.25, cfg.TTLMinFactor)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	env := map[string]string{"TIERCACHE_COMPRESSION_LEVEL": "high"}
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIERCACHE_COMPRESSION_LEVEL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory", func(c *Config) { c.MemoryCacheSize = 0 }},
		{"bad level", func(c *Config) { c.CompressionLevel = 12 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"no socket", func(c *Config) { c.SocketPath = "" }},
		{"zero deps", func(c *Config) { c.MaxDependenciesPerKey = 0 }},
		{"retention below interval", func(c *Config) { c.MetricsRetentionSeconds = 10 }},
		{"zero fetch ttl", func(c *Config) { c.FetchTTLSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}
