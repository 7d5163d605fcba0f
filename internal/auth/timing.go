package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for the randomized failure delay
type TimingConfig struct {
	Min            time.Duration // Lower bound of the delay
	Max            time.Duration // Upper bound of the delay (inclusive)
	DelayOnSuccess bool          // If true, delay granted attempts too
}

// TimingDelay sleeps for a random duration after a failed access check so that
// every denial path takes roughly the same observable time
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	if config.Max < config.Min {
		config.Max = config.Min
	}
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandInt63n returns a secure random number in [0, max)
func cryptoRandInt63n(max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int64(randomValue % uint64(max)), nil
}

// Duration draws the next delay from [Min, Max]
func (td *TimingDelay) Duration() time.Duration {
	spread := int64(td.config.Max - td.config.Min)
	if spread <= 0 {
		return td.config.Min
	}
	offset, err := cryptoRandInt63n(spread + 1)
	if err != nil {
		return td.config.Max
	}
	return td.config.Min + time.Duration(offset)
}

// Wait applies the delay for a failed attempt (or a successful one when
// DelayOnSuccess is set). It returns early with ctx.Err() when the context ends.
func (td *TimingDelay) Wait(ctx context.Context, success bool) error {
	if success && !td.config.DelayOnSuccess {
		return nil
	}
	return sleepCtx(ctx, td.Duration())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
