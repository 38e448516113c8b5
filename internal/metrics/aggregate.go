package metrics

import (
	"math"
	"time"
)

// Stat summarizes one series.
type Stat struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Aggregate summarizes the samples inside a window. Custom-only samples are
// not counted.
type Aggregate struct {
	Samples            int       `json:"samples"`
	HitRate            Stat      `json:"hit_rate"`
	CacheUtilization   Stat      `json:"cache_utilization"`
	HitsPerSecond      Stat      `json:"hits_per_second"`
	MissesPerSecond    Stat      `json:"misses_per_second"`
	EvictionsPerSecond Stat      `json:"evictions_per_second"`
	FirstSample        time.Time `json:"first_sample"`
	LastSample         time.Time `json:"last_sample"`
}

// Aggregated summarizes samples taken within window of now. Rate series
// only include samples that have a predecessor.
func (c *Collector) Aggregated(window time.Duration) Aggregate {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return aggregate(c.sinceLocked(now.Add(-window)))
}

func aggregate(samples []Sample) Aggregate {
	var (
		agg                          Aggregate
		hitRate, util                series
		hitsPS, missesPS, evictionPS series
	)
	for _, s := range samples {
		if s.CustomOnly {
			continue
		}
		if agg.Samples == 0 {
			agg.FirstSample = s.Timestamp
		}
		agg.LastSample = s.Timestamp
		agg.Samples++

		hitRate.add(s.HitRate)
		util.add(s.CacheUtilization)
		if s.Rates != nil {
			hitsPS.add(s.Rates.HitsPerSecond)
			missesPS.add(s.Rates.MissesPerSecond)
			evictionPS.add(s.Rates.EvictionsPerSecond)
		}
	}
	if agg.Samples == 0 {
		return Aggregate{}
	}
	agg.HitRate = hitRate.stat()
	agg.CacheUtilization = util.stat()
	agg.HitsPerSecond = hitsPS.stat()
	agg.MissesPerSecond = missesPS.stat()
	agg.EvictionsPerSecond = evictionPS.stat()
	return agg
}

type series struct {
	n             int
	sum, min, max float64
}

func (s *series) add(v float64) {
	if s.n == 0 {
		s.min, s.max = v, v
	}
	s.n++
	s.sum += v
	s.min = math.Min(s.min, v)
	s.max = math.Max(s.max, v)
}

func (s *series) stat() Stat {
	if s.n == 0 {
		return Stat{}
	}
	return Stat{Avg: s.sum / float64(s.n), Min: s.min, Max: s.max}
}
