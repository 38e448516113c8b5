package cache

import (
	"hash/fnv"
	"time"
)

// smallValueSize is the payload size at or below which the maximum TTL
// factor applies.
const smallValueSize = 100

// jitterSpread is the maximum relative jitter applied to adaptive TTLs.
const jitterSpread = 0.1

// sizeFactor interpolates linearly from maxFactor at smallValueSize down to
// minFactor at threshold.
func sizeFactor(size int, minFactor, maxFactor float64, threshold int) float64 {
	switch {
	case size <= smallValueSize:
		return maxFactor
	case size >= threshold:
		return minFactor
	}
	ratio := float64(size-smallValueSize) / float64(threshold-smallValueSize)
	return maxFactor - ratio*(maxFactor-minFactor)
}

// jitter maps value to a fraction in [-jitterSpread, +jitterSpread]. The same
// payload always gets the same jitter.
func jitter(value []byte) float64 {
	h := fnv.New64a()
	_, _ = h.Write(value)
	// 2001 buckets => -1.000 .. +1.000 in steps of 0.001
	unit := float64(h.Sum64()%2001)/1000 - 1
	return unit * jitterSpread
}

// AdaptiveFactor returns the multiplier applied to both TTLs when adaptive
// TTL is in effect for value.
func (m *Manager) AdaptiveFactor(value []byte) float64 {
	base := sizeFactor(len(value), m.cfg.TTLMinFactor, m.cfg.TTLMaxFactor, m.cfg.TTLSizeThreshold)
	return base * (1 + jitter(value))
}

func scaleTTL(ttl time.Duration, factor float64) time.Duration {
	scaled := time.Duration(float64(ttl) * factor)
	if scaled <= 0 {
		return ttl
	}
	return scaled
}
