package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

// LockoutConfig holds the failure ceiling and the window failures accumulate in
type LockoutConfig struct {
	MaxFailures int
	Window      time.Duration
}

type failureCounter struct {
	count       int
	pending     int
	lastFailure time.Time
	expiresAt   time.Time
}

// LockoutTracker counts consecutive failed access attempts per client address.
// The window starts at the first failure and is not extended by later ones.
// State is process-local.
type LockoutTracker struct {
	mu      sync.Mutex
	config  LockoutConfig
	entries map[string]*failureCounter
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewLockoutTracker creates a new LockoutTracker
func NewLockoutTracker(config LockoutConfig, opts ...Option) *LockoutTracker {
	o := applyOptions(opts)
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	return &LockoutTracker{
		config:  config,
		entries: make(map[string]*failureCounter),
		now:     o.now,
		metrics: o.metrics,
	}
}

// Acquire checks the lock for addr and, when it is open, reserves a failure
// slot in the same step. Reserved slots count toward the ceiling until they
// are settled with RecordFailure, RecordSuccess or Release, so concurrent
// attempts from one address cannot all pass the check.
func (t *LockoutTracker) Acquire(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[addr]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &failureCounter{expiresAt: now.Add(t.config.Window)}
		t.entries[addr] = entry
	}
	if entry.count+entry.pending >= t.config.MaxFailures {
		return false
	}
	entry.pending++
	return true
}

// Release drops a reservation made by Acquire without counting a failure
func (t *LockoutTracker) Release(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[addr]
	if !ok {
		return
	}
	if entry.pending > 0 {
		entry.pending--
	}
	if entry.count == 0 && entry.pending == 0 {
		delete(t.entries, addr)
	}
}

// RecordFailure counts a failure for addr, settling one reservation if there
// is any, and returns the new count and whether addr is now locked
func (t *LockoutTracker) RecordFailure(addr string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[addr]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &failureCounter{expiresAt: now.Add(t.config.Window)}
		t.entries[addr] = entry
	}

	if entry.pending > 0 {
		entry.pending--
	}
	entry.count++
	entry.lastFailure = now

	if entry.count == t.config.MaxFailures {
		t.metrics.IncrementLockouts()
	}
	return entry.count, entry.count >= t.config.MaxFailures
}

// RecordSuccess clears the failure counter for addr, along with any
// reservations still open for it
func (t *LockoutTracker) RecordSuccess(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

// Failures returns the failure count in the current window
func (t *LockoutTracker) Failures(addr string) int {
	if entry := t.live(addr); entry != nil {
		return entry.count
	}
	return 0
}

// LockedUntil returns when the current window for addr ends, if it is locked
func (t *LockoutTracker) LockedUntil(addr string) (time.Time, bool) {
	entry := t.live(addr)
	if entry == nil || entry.count < t.config.MaxFailures {
		return time.Time{}, false
	}
	return entry.expiresAt, true
}

// live returns a copy of the entry for addr, purging it if its window passed
func (t *LockoutTracker) live(addr string) *failureCounter {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[addr]
	if !ok {
		return nil
	}
	if !t.now().Before(entry.expiresAt) {
		delete(t.entries, addr)
		return nil
	}
	cp := *entry
	return &cp
}

// Name identifies the tracker in maintenance logs
func (t *LockoutTracker) Name() string { return "lockout_tracker" }

// Sweep removes every expired counter and returns how many were removed
func (t *LockoutTracker) Sweep(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for addr, entry := range t.entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !now.Before(entry.expiresAt) {
			delete(t.entries, addr)
			removed++
		}
	}

	t.metrics.SetTrackedAddresses(len(t.entries))
	return removed, nil
}

// Len returns the number of tracked addresses, expired or not
func (t *LockoutTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
