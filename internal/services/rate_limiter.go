package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

// RatePolicy is a request ceiling per fixed window
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimiterConfig holds the default policy and per-route overrides keyed by
// "METHOD /pattern"
type RateLimiterConfig struct {
	Default RatePolicy
	Routes  map[string]RatePolicy
}

// RateLimitResult is the outcome of one Allow call. Limit, Remaining and
// ResetAt are always populated so callers can report them on every response.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Sustained is true exactly once per window, when rejections for the key
	// reach the ceiling a second time.
	Sustained bool
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per (identity, route) in fixed windows. A window
// starts with the first request for a key and lasts the policy window. A client
// can therefore burst up to twice the ceiling across a window boundary; this
// is the accepted cost of O(1) bookkeeping. State is process-local.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimiterConfig
	buckets map[string]*rateBucket
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(config RateLimiterConfig, opts ...Option) *RateLimiter {
	o := applyOptions(opts)
	if config.Default.Limit <= 0 {
		config.Default.Limit = 60
	}
	if config.Default.Window <= 0 {
		config.Default.Window = time.Minute
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*rateBucket),
		now:     o.now,
		metrics: o.metrics,
	}
}

// Policy returns the policy applied to route
func (l *RateLimiter) Policy(route string) RatePolicy {
	if p, ok := l.config.Routes[route]; ok && p.Limit > 0 && p.Window > 0 {
		return p
	}
	return l.config.Default
}

// Allow counts one request for identity on route
func (l *RateLimiter) Allow(identity, route string) RateLimitResult {
	policy := l.Policy(route)
	key := identity + "|" + route

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok || !now.Before(bucket.resetAt) {
		bucket = &rateBucket{resetAt: now.Add(policy.Window)}
		l.buckets[key] = bucket
	}
	bucket.count++

	result := RateLimitResult{
		Allowed:   bucket.count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: policy.Limit - bucket.count,
		ResetAt:   bucket.resetAt,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = bucket.resetAt.Sub(now)
		result.Sustained = bucket.count == 2*policy.Limit
		l.metrics.IncrementRateLimitRejection(route)
	}
	return result
}

// Name identifies the limiter in maintenance logs
func (l *RateLimiter) Name() string { return "rate_limiter" }

// Sweep drops buckets whose window has ended
func (l *RateLimiter) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, bucket := range l.buckets {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !now.Before(bucket.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}

	l.metrics.SetRateLimitBuckets(len(l.buckets))
	return removed, nil
}

// Len returns the number of buckets held
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
