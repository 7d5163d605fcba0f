package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

// DedupCache remembers which subjects were analyzed recently. A marker means
// "skip until expiry"; expiry is checked on read and markers are never
// deleted explicitly.
type DedupCache struct {
	mu      sync.Mutex
	markers map[string]time.Time
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewDedupCache creates a new DedupCache
func NewDedupCache(opts ...Option) *DedupCache {
	o := applyOptions(opts)
	return &DedupCache{
		markers: make(map[string]time.Time),
		now:     o.now,
		metrics: o.metrics,
	}
}

// HasBeenChecked reports whether subjectID is inside its cool-down window
func (c *DedupCache) HasBeenChecked(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt, ok := c.markers[subjectID]
	if !ok {
		return false
	}
	if !c.now().Before(expiresAt) {
		delete(c.markers, subjectID)
		return false
	}
	return true
}

// MarkChecked starts a cool-down window of ttl for subjectID
func (c *DedupCache) MarkChecked(subjectID string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[subjectID] = c.now().Add(ttl)
}

// Name identifies the cache in maintenance logs
func (c *DedupCache) Name() string { return "dedup_cache" }

// Sweep drops expired markers; it only bounds memory and never changes what
// HasBeenChecked returns
func (c *DedupCache) Sweep(ctx context.Context) (int, error) {
	return c.Compact(ctx)
}

// Compact drops expired markers and returns how many were removed
func (c *DedupCache) Compact(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, expiresAt := range c.markers {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !now.Before(expiresAt) {
			delete(c.markers, id)
			removed++
		}
	}

	c.metrics.SetDedupMarkers(len(c.markers))
	return removed, nil
}

// Len returns the number of markers held
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.markers)
}
