package dependency

import "time"

// Option adjusts a single tracker call.
type Option func(*options)

type options struct {
	ttl             time.Duration
	namespace       string
	sourceNamespace string
}

// WithTTL sets how long a registered relationship stays live.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithNamespace qualifies the dependent key, or the key being invalidated.
func WithNamespace(namespace string) Option {
	return func(o *options) { o.namespace = namespace }
}

// WithSourceNamespace qualifies the key being depended on.
func WithSourceNamespace(namespace string) Option {
	return func(o *options) { o.sourceNamespace = namespace }
}

func (t *Tracker) applyOptions(opts []Option) options {
	o := options{ttl: t.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = t.cfg.DefaultTTL
	}
	return o
}
