package services

import (
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/metrics"
)

// Option configures the in-memory components (lockout tracker, rate limiter,
// dedup cache, access guard)
type Option func(*componentOptions)

type componentOptions struct {
	now     func() time.Time
	metrics *metrics.Metrics
	compare func(a, b string) bool
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *componentOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics attaches prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *componentOptions) {
		o.metrics = m
	}
}

// WithComparator replaces the constant-time code comparison used by the
// access guard
func WithComparator(compare func(a, b string) bool) Option {
	return func(o *componentOptions) {
		if compare != nil {
			o.compare = compare
		}
	}
}

func applyOptions(opts []Option) componentOptions {
	o := componentOptions{now: time.Now, compare: auth.ConstantTimeEqual}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
