package dependency

import (
	"time"

	"github.com/jmgilman/go/errors"
)

// Config controls dependency record lifetimes and sweeping.
type Config struct {
	// DefaultTTL is how long a registered relationship stays live.
	DefaultTTL time.Duration
	// MaxDependenciesPerKey caps the dependents tracked for one source key.
	MaxDependenciesPerKey int
	// CleanupInterval is the minimum time between opportunistic sweeps run
	// by InvalidateWithDependencies. Zero disables them.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:            86400 * time.Second,
		MaxDependenciesPerKey: 1000,
		CleanupInterval:       3600 * time.Second,
	}
}

// SetDefaults fills zero fields except CleanupInterval.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.MaxDependenciesPerKey == 0 {
		c.MaxDependenciesPerKey = d.MaxDependenciesPerKey
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return errors.New(errors.CodeInvalidConfig, "dependency ttl must be greater than 0")
	}
	if c.MaxDependenciesPerKey <= 0 {
		return errors.New(errors.CodeInvalidConfig, "max dependencies per key must be greater than 0")
	}
	if c.CleanupInterval < 0 {
		return errors.New(errors.CodeInvalidConfig, "cleanup interval cannot be negative")
	}
	return nil
}
