package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

// Sweeper removes expired state. Lockout tracker, rate limiter, dedup cache and
// attempt ledger implement it.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) (int, error)
}

// MaintenanceManager periodically runs every sweeper. One failing sweeper does
// not stop the others.
type MaintenanceManager struct {
	sweepers []Sweeper
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMaintenanceManager creates a new maintenance manager
func NewMaintenanceManager(
	sweepers []Sweeper,
	logger *slog.Logger,
	interval time.Duration,
	m *metrics.Metrics,
) *MaintenanceManager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MaintenanceManager{
		sweepers: sweepers,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		metrics:  m,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled
func (mm *MaintenanceManager) Start(ctx context.Context) {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()

	mm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			mm.RunOnce(ctx)
		case <-mm.stopCh:
			mm.logger.Info("maintenance manager stopped")
			return
		case <-ctx.Done():
			mm.logger.Info("maintenance manager context cancelled")
			return
		}
	}
}

// RunOnce sweeps every component a single time
func (mm *MaintenanceManager) RunOnce(ctx context.Context) {
	for _, s := range mm.sweepers {
		mm.sweep(ctx, s)
	}
}

func (mm *MaintenanceManager) sweep(ctx context.Context, s Sweeper) {
	sweepCtx, cancel := context.WithTimeout(ctx, mm.timeout)
	defer cancel()

	removed, err := safeSweep(sweepCtx, s)
	if err != nil {
		mm.metrics.ObserveMaintenance(s.Name(), "error", 0)
		mm.logger.Error("maintenance sweep failed",
			slog.String("sweeper", s.Name()),
			slog.Any("error", err))
		return
	}

	mm.metrics.ObserveMaintenance(s.Name(), "ok", removed)
	if removed > 0 {
		mm.logger.Debug("maintenance sweep completed",
			slog.String("sweeper", s.Name()),
			slog.Int("removed", removed))
	}
}

func safeSweep(ctx context.Context, s Sweeper) (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper panicked: %v", r)
		}
	}()
	return s.Sweep(ctx)
}

// Stop signals the maintenance manager to stop. Safe to call more than once.
func (mm *MaintenanceManager) Stop() {
	mm.stopOnce.Do(func() { close(mm.stopCh) })
}
