package metrics

import (
	"time"

	"github.com/jmgilman/go/errors"
)

// Config controls sampling cadence and history retention.
type Config struct {
	CollectionInterval time.Duration
	Retention          time.Duration
}

// DefaultConfig returns a one-minute interval with a day of history.
func DefaultConfig() Config {
	return Config{
		CollectionInterval: 60 * time.Second,
		Retention:          86400 * time.Second,
	}
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.CollectionInterval == 0 {
		c.CollectionInterval = d.CollectionInterval
	}
	if c.Retention == 0 {
		c.Retention = d.Retention
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CollectionInterval <= 0 {
		return errors.New(errors.CodeInvalidConfig, "collection interval must be greater than 0")
	}
	if c.Retention < c.CollectionInterval {
		return errors.Newf(errors.CodeInvalidConfig,
			"retention %s is shorter than collection interval %s", c.Retention, c.CollectionInterval)
	}
	return nil
}
