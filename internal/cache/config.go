package cache

import (
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// Config holds configuration for the tiered cache manager.
type Config struct {
	// MemoryCacheSize is the maximum number of tier-1 entries.
	MemoryCacheSize int
	// Tier1TTL is the default lifetime of tier-1 entries.
	Tier1TTL time.Duration
	// Tier2TTL is the default lifetime of tier-2 entries.
	Tier2TTL time.Duration

	EnableCompression bool
	// CompressionMinSize is the payload size in bytes from which tier-2
	// values are compressed.
	CompressionMinSize int
	// CompressionLevel is a zlib level, -2 (Huffman only) through 9.
	CompressionLevel int

	EnableAdaptiveTTL bool
	TTLMinFactor      float64
	TTLMaxFactor      float64
	// TTLSizeThreshold is the payload size at which the factor bottoms out
	// at TTLMinFactor.
	TTLSizeThreshold int

	// KeyPrefix is prepended to every tier-2 key and bounds InvalidateAll.
	KeyPrefix string
	// UnscopedInvalidateAll makes InvalidateAll flush the whole shared store.
	UnscopedInvalidateAll bool
	// Tier2Timeout bounds every tier-2 call.
	Tier2Timeout time.Duration
	// CleanupInterval is how often the janitor purges expired tier-1
	// entries. Zero disables the janitor; expired entries are still dropped
	// lazily on read.
	CleanupInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MemoryCacheSize:    1000,
		Tier1TTL:           300 * time.Second,
		Tier2TTL:           3600 * time.Second,
		EnableCompression:  true,
		CompressionMinSize: 1024,
		CompressionLevel:   6,
		EnableAdaptiveTTL:  true,
		TTLMinFactor:       0.5,
		TTLMaxFactor:       2.0,
		TTLSizeThreshold:   10000,
		KeyPrefix:          "tiercache:",
		Tier2Timeout:       500 * time.Millisecond,
	}
}

// SetDefaults fills zero numeric fields from DefaultConfig. Booleans and
// KeyPrefix are left as given.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.MemoryCacheSize == 0 {
		c.MemoryCacheSize = d.MemoryCacheSize
	}
	if c.Tier1TTL == 0 {
		c.Tier1TTL = d.Tier1TTL
	}
	if c.Tier2TTL == 0 {
		c.Tier2TTL = d.Tier2TTL
	}
	if c.CompressionMinSize == 0 {
		c.CompressionMinSize = d.CompressionMinSize
	}
	if c.TTLMinFactor == 0 {
		c.TTLMinFactor = d.TTLMinFactor
	}
	if c.TTLMaxFactor == 0 {
		c.TTLMaxFactor = d.TTLMaxFactor
	}
	if c.TTLSizeThreshold == 0 {
		c.TTLSizeThreshold = d.TTLSizeThreshold
	}
	if c.Tier2Timeout == 0 {
		c.Tier2Timeout = d.Tier2Timeout
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.MemoryCacheSize <= 0:
		return errors.New(errors.CodeInvalidConfig, "memory cache size must be greater than 0")
	case c.Tier1TTL <= 0 || c.Tier2TTL <= 0:
		return errors.New(errors.CodeInvalidConfig, "tier TTLs must be greater than 0")
	case c.CompressionMinSize < 0:
		return errors.New(errors.CodeInvalidConfig, "compression min size cannot be negative")
	case c.CompressionLevel < -2 || c.CompressionLevel > 9:
		return errors.Newf(errors.CodeInvalidConfig, "compression level %d out of range [-2, 9]", c.CompressionLevel)
	case c.TTLMinFactor <= 0 || c.TTLMaxFactor < c.TTLMinFactor:
		return errors.Newf(errors.CodeInvalidConfig,
			"ttl factors must satisfy 0 < min <= max (min=%g max=%g)", c.TTLMinFactor, c.TTLMaxFactor)
	case c.TTLSizeThreshold <= smallValueSize:
		return errors.Newf(errors.CodeInvalidConfig, "ttl size threshold must exceed %d bytes", smallValueSize)
	case strings.Contains(c.KeyPrefix, "*"):
		return errors.New(errors.CodeInvalidConfig, "key prefix must not contain '*'")
	case c.Tier2Timeout <= 0:
		return errors.New(errors.CodeInvalidConfig, "tier-2 timeout must be greater than 0")
	case c.CleanupInterval < 0:
		return errors.New(errors.CodeInvalidConfig, "cleanup interval cannot be negative")
	}
	return nil
}
