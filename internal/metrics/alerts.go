package metrics

import (
	"time"

	"github.com/leonardcser/tiercache/internal/logger"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Metric names used in alerts.
const (
	MetricHitRate            = "hitRate"
	MetricCacheUtilization   = "cacheUtilization"
	MetricEvictionsPerSecond = "evictionsPerSecond"
)

// alertWindow is the span Alerts aggregates over.
const alertWindow = time.Hour

// Alert is a threshold breach derived from aggregated samples.
type Alert struct {
	Severity    Severity `json:"severity"`
	Metric      string   `json:"metric"`
	Value       float64  `json:"value"`
	Threshold   float64  `json:"threshold"`
	Description string   `json:"description"`
}

// Alerts evaluates the fixed alert rules over the last hour. Each rule is
// independent, so one window can raise several alerts.
func (c *Collector) Alerts() []Alert {
	return evaluate(c.Aggregated(alertWindow))
}

func evaluate(agg Aggregate) []Alert {
	if agg.Samples == 0 {
		return nil
	}
	var alerts []Alert

	switch hr := agg.HitRate.Avg; {
	case hr < 0.5:
		alerts = append(alerts, Alert{SeverityCritical, MetricHitRate, hr, 0.5, "cache hit rate is critically low"})
	case hr < 0.7:
		alerts = append(alerts, Alert{SeverityWarning, MetricHitRate, hr, 0.7, "cache hit rate is below target"})
	}

	switch u := agg.CacheUtilization.Avg; {
	case u > 0.95:
		alerts = append(alerts, Alert{SeverityCritical, MetricCacheUtilization, u, 0.95, "tier-1 cache is nearly full"})
	case u > 0.85:
		alerts = append(alerts, Alert{SeverityWarning, MetricCacheUtilization, u, 0.85, "tier-1 cache utilization is high"})
	}

	if e := agg.EvictionsPerSecond.Avg; e > 10 {
		alerts = append(alerts, Alert{SeverityWarning, MetricEvictionsPerSecond, e, 10, "tier-1 eviction rate is high"})
	}
	return alerts
}

// reportAlerts logs alerts whose severity changed since the previous
// evaluation, and clears those that resolved.
func (c *Collector) reportAlerts() {
	alerts := c.Alerts()
	current := make(map[string]Severity, len(alerts))
	for _, a := range alerts {
		current[a.Metric] = a.Severity
	}

	c.mu.Lock()
	previous := c.lastAlerts
	c.lastAlerts = current
	c.mu.Unlock()

	for _, a := range alerts {
		if previous[a.Metric] != a.Severity {
			logger.Warnf("metrics: %s alert on %s: %.3f (threshold %.3f) - %s",
				a.Severity, a.Metric, a.Value, a.Threshold, a.Description)
		}
	}
	for metric := range previous {
		if _, still := current[metric]; !still {
			logger.Infof("metrics: %s alert resolved", metric)
		}
	}
}
