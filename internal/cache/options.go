package cache

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Option adjusts a single cache call.
type Option func(*callOptions)

type callOptions struct {
	namespace string
	ttl       time.Duration
	adaptive  *bool
}

// WithNamespace qualifies the key (or pattern) with a namespace.
func WithNamespace(namespace string) Option {
	return func(o *callOptions) { o.namespace = namespace }
}

// WithTTL overrides both tier TTLs for a Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithAdaptiveTTL forces adaptive TTL on or off for a Set regardless of the
// manager default.
func WithAdaptiveTTL(enabled bool) Option {
	return func(o *callOptions) { o.adaptive = &enabled }
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// FullKey returns the namespace-qualified form of key.
func FullKey(key, namespace string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
