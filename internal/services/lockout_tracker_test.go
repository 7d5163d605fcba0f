package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(clock *fakeClock) *services.LockoutTracker {
	return services.NewLockoutTracker(services.LockoutConfig{
		MaxFailures: 5,
		Window:      15 * time.Minute,
	}, services.WithClock(clock.Now))
}

func isLocked(tracker *services.LockoutTracker, addr string) bool {
	_, locked := tracker.LockedUntil(addr)
	return locked
}

func TestLockoutTracker_LocksAtCeiling(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)
	addr := "203.0.113.10"

	for i := 1; i < 5; i++ {
		count, locked := tracker.RecordFailure(addr)
		assert.Equal(t, i, count)
		assert.False(t, locked)
		assert.False(t, isLocked(tracker, addr))
	}

	count, locked := tracker.RecordFailure(addr)
	assert.Equal(t, 5, count)
	assert.True(t, locked)
	assert.True(t, isLocked(tracker, addr))

	// One more failure before expiry keeps it locked
	clock.Advance(time.Minute)
	_, locked = tracker.RecordFailure(addr)
	assert.True(t, locked)
	assert.True(t, isLocked(tracker, addr))
}

func TestLockoutTracker_WindowExpiryResetsCount(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)
	addr := "203.0.113.10"

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(addr)
	}
	require.True(t, isLocked(tracker, addr))

	clock.Advance(15 * time.Minute)
	assert.False(t, isLocked(tracker, addr))

	count, locked := tracker.RecordFailure(addr)
	assert.Equal(t, 1, count)
	assert.False(t, locked)
	assert.False(t, isLocked(tracker, addr))
}

func TestLockoutTracker_WindowNotExtendedByLaterFailures(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)
	addr := "203.0.113.10"

	tracker.RecordFailure(addr)
	clock.Advance(14 * time.Minute)
	tracker.RecordFailure(addr)
	assert.Equal(t, 2, tracker.Failures(addr))

	clock.Advance(time.Minute)
	assert.Equal(t, 0, tracker.Failures(addr))
}

func TestLockoutTracker_SuccessClearsCounter(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)
	addr := "203.0.113.10"

	for i := 0; i < 4; i++ {
		tracker.RecordFailure(addr)
	}
	tracker.RecordSuccess(addr)

	assert.Equal(t, 0, tracker.Failures(addr))
	count, _ := tracker.RecordFailure(addr)
	assert.Equal(t, 1, count)
}

func TestLockoutTracker_AddressesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("203.0.113.10")
	}

	assert.True(t, isLocked(tracker, "203.0.113.10"))
	assert.False(t, isLocked(tracker, "203.0.113.11"))
}

func TestLockoutTracker_LockedUntil(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)
	start := clock.Now()

	_, ok := tracker.LockedUntil("a")
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("a")
	}
	until, ok := tracker.LockedUntil("a")
	assert.True(t, ok)
	assert.Equal(t, start.Add(15*time.Minute), until)
}

func TestLockoutTracker_SweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.RecordFailure("old-1")
	tracker.RecordFailure("old-2")
	clock.Advance(10 * time.Minute)
	tracker.RecordFailure("fresh")
	clock.Advance(6 * time.Minute)

	removed, err := tracker.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, tracker.Len())
	assert.Equal(t, 1, tracker.Failures("fresh"))
}

func TestLockoutTracker_DefaultsApplied(t *testing.T) {
	tracker := services.NewLockoutTracker(services.LockoutConfig{})

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("a")
	}
	assert.False(t, isLocked(tracker, "a"))
	tracker.RecordFailure("a")
	assert.True(t, isLocked(tracker, "a"))
}

func TestLockoutTracker_AcquireReservesSlots(t *testing.T) {
	tracker := newTracker(newFakeClock())
	addr := "203.0.113.10"

	for i := 0; i < 5; i++ {
		require.True(t, tracker.Acquire(addr), "attempt %d", i+1)
	}
	assert.False(t, tracker.Acquire(addr), "in-flight attempts hold the ceiling")
	assert.False(t, isLocked(tracker, addr), "nothing has failed yet")

	tracker.Release(addr)
	assert.True(t, tracker.Acquire(addr))
}

func TestLockoutTracker_AcquireSettledByFailure(t *testing.T) {
	tracker := newTracker(newFakeClock())
	addr := "203.0.113.10"

	for i := 0; i < 5; i++ {
		require.True(t, tracker.Acquire(addr))
		tracker.RecordFailure(addr)
	}

	assert.Equal(t, 5, tracker.Failures(addr))
	assert.True(t, isLocked(tracker, addr))
	assert.False(t, tracker.Acquire(addr))
}

func TestLockoutTracker_ReleaseWithoutFailuresForgetsAddress(t *testing.T) {
	tracker := newTracker(newFakeClock())

	require.True(t, tracker.Acquire("a"))
	tracker.Release("a")

	assert.Equal(t, 0, tracker.Len())
}

func TestLockoutTracker_ConcurrentAcquireNeverExceedsCeiling(t *testing.T) {
	tracker := newTracker(newFakeClock())
	addr := "203.0.113.10"

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Acquire(addr) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), granted.Load())
}
