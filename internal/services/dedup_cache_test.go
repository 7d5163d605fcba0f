package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupCache_MarkedSubjectSkippedUntilExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := services.NewDedupCache(services.WithClock(clock.Now))

	assert.False(t, cache.HasBeenChecked("error:abc"))

	cache.MarkChecked("error:abc", time.Hour)
	assert.True(t, cache.HasBeenChecked("error:abc"))

	clock.Advance(59 * time.Minute)
	assert.True(t, cache.HasBeenChecked("error:abc"))

	clock.Advance(time.Minute)
	assert.False(t, cache.HasBeenChecked("error:abc"))
	assert.Equal(t, 0, cache.Len(), "expired marker is purged on read")
}

func TestDedupCache_RemarkExtendsWindow(t *testing.T) {
	clock := newFakeClock()
	cache := services.NewDedupCache(services.WithClock(clock.Now))

	cache.MarkChecked("content:post:1", time.Hour)
	clock.Advance(30 * time.Minute)
	cache.MarkChecked("content:post:1", time.Hour)
	clock.Advance(45 * time.Minute)

	assert.True(t, cache.HasBeenChecked("content:post:1"))
}

func TestDedupCache_NonPositiveTTLIgnored(t *testing.T) {
	cache := services.NewDedupCache()

	cache.MarkChecked("x", 0)

	assert.False(t, cache.HasBeenChecked("x"))
}

func TestDedupCache_Compact(t *testing.T) {
	clock := newFakeClock()
	cache := services.NewDedupCache(services.WithClock(clock.Now))

	cache.MarkChecked("short", time.Minute)
	cache.MarkChecked("long", 7*24*time.Hour)
	clock.Advance(2 * time.Minute)

	removed, err := cache.Compact(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.HasBeenChecked("long"))
}
