// Package metrics samples cache statistics on a timer, keeps a bounded
// history, and derives windowed aggregates and alerts from it.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/logger"
)

// customWindow is how recent the latest sample must be for Record to attach
// to it rather than append a new one.
const customWindow = time.Second

// StatsSource is anything that reports cache statistics.
type StatsSource interface {
	GetStats() cache.Stats
}

// Rates holds per-second deltas between two consecutive samples.
type Rates struct {
	HitsPerSecond        float64 `json:"hits_per_second"`
	MissesPerSecond      float64 `json:"misses_per_second"`
	Tier2HitsPerSecond   float64 `json:"tier2_hits_per_second"`
	Tier2MissesPerSecond float64 `json:"tier2_misses_per_second"`
	EvictionsPerSecond   float64 `json:"evictions_per_second"`
}

// Sample is one snapshot of cache health.
type Sample struct {
	Timestamp        time.Time          `json:"timestamp"`
	Hits             int64              `json:"hits"`
	Misses           int64              `json:"misses"`
	HitRate          float64            `json:"hit_rate"`
	CacheUtilization float64            `json:"cache_utilization"`
	Tier2Hits        int64              `json:"tier2_hits"`
	Tier2Misses      int64              `json:"tier2_misses"`
	Evictions        int64              `json:"evictions"`
	CompressedCount  int64              `json:"compressed_count"`
	Rates            *Rates             `json:"rates,omitempty"`
	Custom           map[string]float64 `json:"custom,omitempty"`
	// CustomOnly marks samples created by Record that carry no cache stats.
	CustomOnly bool `json:"custom_only,omitempty"`
}

func (s Sample) clone() Sample {
	if s.Rates != nil {
		r := *s.Rates
		s.Rates = &r
	}
	if s.Custom != nil {
		c := make(map[string]float64, len(s.Custom))
		for k, v := range s.Custom {
			c[k] = v
		}
		s.Custom = c
	}
	return s
}

// Collector periodically samples a StatsSource.
type Collector struct {
	src   StatsSource
	cfg   Config
	clock clockwork.Clock

	mu         sync.Mutex
	history    []Sample
	prev       Sample // last stats-bearing sample, for rate deltas
	hasPrev    bool
	lastAlerts map[string]Severity

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// New creates a Collector for src.
func New(src StatsSource, cfg Config, opts ...Option) (*Collector, error) {
	if src == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "metrics collector requires a stats source")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid metrics config")
	}
	c := &Collector{src: src, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collect takes one sample, appends it to the history and returns it.
// Sampling happens under the history lock so concurrent calls append in
// timestamp order.
func (c *Collector) Collect() Sample {
	c.mu.Lock()
	stats := c.src.GetStats()
	now := c.clock.Now()

	s := Sample{
		Timestamp:       now,
		Hits:            stats.Hits,
		Misses:          stats.Misses,
		HitRate:         stats.HitRate,
		Tier2Hits:       stats.Tier2Hits,
		Tier2Misses:     stats.Tier2Misses,
		Evictions:       stats.Evictions,
		CompressedCount: stats.CompressedCount,
	}
	if stats.Tier1Limit > 0 {
		s.CacheUtilization = float64(stats.Tier1Size) / float64(stats.Tier1Limit)
	}

	if c.hasPrev {
		if elapsed := now.Sub(c.prev.Timestamp).Seconds(); elapsed > 0 {
			s.Rates = &Rates{
				HitsPerSecond:        float64(s.Hits-c.prev.Hits) / elapsed,
				MissesPerSecond:      float64(s.Misses-c.prev.Misses) / elapsed,
				Tier2HitsPerSecond:   float64(s.Tier2Hits-c.prev.Tier2Hits) / elapsed,
				Tier2MissesPerSecond: float64(s.Tier2Misses-c.prev.Tier2Misses) / elapsed,
				EvictionsPerSecond:   float64(s.Evictions-c.prev.Evictions) / elapsed,
			}
		}
	}
	c.history = append(c.history, s)
	c.prev, c.hasPrev = s, true
	c.pruneLocked(now)
	out := s.clone()
	c.mu.Unlock()

	logSummary(out)
	return out
}

// Start begins background collection. Calling Start while running is a
// no-op.
func (c *Collector) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	ticker := c.clock.NewTicker(c.cfg.CollectionInterval)
	logger.Infof("metrics: collection started every %s", c.cfg.CollectionInterval)

	go func(stop, done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.Chan():
				c.Collect()
				c.reportAlerts()
			}
		}
	}(c.stop, c.done)
}

// Stop halts background collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
	logger.Infof("metrics: collection stopped")
}

// Running reports whether background collection is active.
func (c *Collector) Running() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stop != nil
}

// Recent returns up to n of the newest samples, oldest first.
func (c *Collector) Recent(n int) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := len(c.history) - n
	if start < 0 {
		start = 0
	}
	return cloneSamples(c.history[start:])
}

// Since returns samples taken at or after t.
func (c *Collector) Since(t time.Time) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSamples(c.sinceLocked(t))
}

// Record attaches a named value to the latest sample when it is less than a
// second old, otherwise it appends a sample carrying only that value.
func (c *Collector) Record(name string, value float64) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.history); n > 0 {
		latest := &c.history[n-1]
		if now.Sub(latest.Timestamp) < customWindow {
			if latest.Custom == nil {
				latest.Custom = make(map[string]float64)
			}
			latest.Custom[name] = value
			return
		}
	}
	c.history = append(c.history, Sample{
		Timestamp:  now,
		Custom:     map[string]float64{name: value},
		CustomOnly: true,
	})
	c.pruneLocked(now)
}

// pruneLocked drops samples older than the retention window; c.mu must be
// held.
func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Retention)
	i := 0
	for i < len(c.history) && c.history[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	c.history = append([]Sample(nil), c.history[i:]...)
}

func (c *Collector) sinceLocked(t time.Time) []Sample {
	for i, s := range c.history {
		if !s.Timestamp.Before(t) {
			return c.history[i:]
		}
	}
	return nil
}

func cloneSamples(in []Sample) []Sample {
	out := make([]Sample, len(in))
	for i, s := range in {
		out[i] = s.clone()
	}
	return out
}

func logSummary(s Sample) {
	line := "metrics: hit rate %.1f%% (%d hits, %d misses), tier-1 %.1f%% full, %d evictions"
	if s.Rates == nil {
		logger.Debugf(line, s.HitRate*100, s.Hits, s.Misses, s.CacheUtilization*100, s.Evictions)
		return
	}
	logger.Debugf(line+", %.2f req/s", s.HitRate*100, s.Hits, s.Misses, s.CacheUtilization*100,
		s.Evictions, s.Rates.HitsPerSecond+s.Rates.MissesPerSecond)
}
