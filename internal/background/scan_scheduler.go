package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/services"
)

// SchedulerState is the lifecycle state of a ScanScheduler
type SchedulerState string

const (
	SchedulerStopped SchedulerState = "stopped"
	SchedulerRunning SchedulerState = "running"
)

var (
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrInvalidInterval  = errors.New("interval must be at least one minute")
)

// CycleFunc runs one scan cycle
type CycleFunc func(ctx context.Context) (*services.ScanReport, error)

// SchedulerStatus is a snapshot of a scheduler for the admin surface
type SchedulerStatus struct {
	Pipeline        string               `json:"pipeline"`
	State           SchedulerState       `json:"state"`
	IntervalMinutes int                  `json:"interval_minutes"`
	CycleRunning    bool                 `json:"cycle_running"`
	SkippedTicks    int64                `json:"skipped_ticks"`
	LastRunAt       *time.Time           `json:"last_run_at,omitempty"`
	LastReport      *services.ScanReport `json:"last_report,omitempty"`
	LastError       string               `json:"last_error,omitempty"`
}

// SchedulerOption configures a ScanScheduler
type SchedulerOption func(*ScanScheduler)

// WithIntervalUnit changes what one interval "minute" means. Tests use
// milliseconds.
func WithIntervalUnit(unit time.Duration) SchedulerOption {
	return func(s *ScanScheduler) {
		if unit > 0 {
			s.unit = unit
		}
	}
}

// ScanScheduler drives one scan pipeline on a fixed interval. It is an explicit
// stopped/running state machine; changing the interval always goes through
// Stop then Start. A tick that fires while a cycle is still running is
// skipped, never queued.
type ScanScheduler struct {
	pipeline string
	run      CycleFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics
	unit     time.Duration

	// ctl serializes Start, Stop and UpdateInterval
	ctl sync.Mutex

	mu              sync.Mutex
	state           SchedulerState
	intervalMinutes int
	stopCh          chan struct{}
	loopDone        chan struct{}
	cycleRunning    bool
	idleCh          chan struct{}
	skippedTicks    int64
	lastRunAt       time.Time
	lastReport      *services.ScanReport
	lastErr         error
}

// NewScanScheduler creates a stopped scheduler for pipeline
func NewScanScheduler(pipeline string, run CycleFunc, logger *slog.Logger, m *metrics.Metrics, opts ...SchedulerOption) *ScanScheduler {
	s := &ScanScheduler{
		pipeline: pipeline,
		run:      run,
		logger:   logger.With(slog.String("pipeline", pipeline)),
		metrics:  m,
		unit:     time.Minute,
		state:    SchedulerStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipeline returns the pipeline name
func (s *ScanScheduler) Pipeline() string {
	return s.pipeline
}

// Start begins ticking every intervalMinutes. Cycles run with ctx, so
// cancelling ctx stops the loop and aborts in-flight work; Stop does neither
// to a running cycle.
func (s *ScanScheduler) Start(ctx context.Context, intervalMinutes int) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.start(ctx, intervalMinutes)
}

// Stop prevents further ticks. A cycle already in progress runs to
// completion; use WaitIdle to wait for it.
func (s *ScanScheduler) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()
}

// UpdateInterval restarts the scheduler with a new interval
func (s *ScanScheduler) UpdateInterval(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes < 1 {
		return ErrInvalidInterval
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.stop()
	if err := s.start(ctx, intervalMinutes); err != nil {
		return err
	}
	s.logger.Info("scan interval updated", slog.Int("interval_minutes", intervalMinutes))
	return nil
}

func (s *ScanScheduler) start(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes < 1 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	if s.state == SchedulerRunning {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	stopCh := make(chan struct{})
	loopDone := make(chan struct{})
	s.state = SchedulerRunning
	s.intervalMinutes = intervalMinutes
	s.stopCh = stopCh
	s.loopDone = loopDone
	s.mu.Unlock()

	go s.loop(ctx, time.Duration(intervalMinutes)*s.unit, stopCh, loopDone)

	s.logger.Info("scan scheduler started", slog.Int("interval_minutes", intervalMinutes))
	return nil
}

func (s *ScanScheduler) stop() {
	s.mu.Lock()
	if s.state == SchedulerStopped {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	loopDone := s.loopDone
	s.state = SchedulerStopped
	s.mu.Unlock()

	<-loopDone
	s.logger.Info("scan scheduler stopped")
}

func (s *ScanScheduler) loop(ctx context.Context, interval time.Duration, stopCh, loopDone chan struct{}) {
	defer close(loopDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// a stop racing with a tick wins
			select {
			case <-stopCh:
				return
			default:
			}
			s.tryStartCycle(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stopCh {
				s.state = SchedulerStopped
			}
			s.mu.Unlock()
			s.logger.Info("scan scheduler context cancelled")
			return
		}
	}
}

// RunNow starts a cycle immediately, independent of the schedule. It returns
// false when a cycle is already running. The cycle outlives ctx's cancellation.
func (s *ScanScheduler) RunNow(ctx context.Context) bool {
	return s.tryStartCycle(context.WithoutCancel(ctx))
}

func (s *ScanScheduler) tryStartCycle(ctx context.Context) bool {
	s.mu.Lock()
	if s.cycleRunning {
		s.skippedTicks++
		s.mu.Unlock()
		s.metrics.IncrementSkippedTick(s.pipeline)
		s.logger.Debug("previous scan cycle still running, tick skipped")
		return false
	}
	s.cycleRunning = true
	s.idleCh = make(chan struct{})
	s.mu.Unlock()

	go s.runCycle(ctx)
	return true
}

func (s *ScanScheduler) runCycle(ctx context.Context) {
	var (
		report *services.ScanReport
		err    error
	)
	startedAt := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panicked: %v", r)
			s.logger.Error("scan cycle panicked", slog.Any("panic", r))
		}

		s.mu.Lock()
		s.cycleRunning = false
		s.lastRunAt = startedAt
		s.lastReport = report
		s.lastErr = err
		close(s.idleCh)
		s.mu.Unlock()
	}()

	report, err = s.run(ctx)
	if err != nil {
		s.logger.Error("scan cycle failed", slog.Any("error", err))
	}
}

// CycleRunning reports whether a cycle is in flight
func (s *ScanScheduler) CycleRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleRunning
}

// WaitIdle blocks until no cycle is running or ctx is done
func (s *ScanScheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if !s.cycleRunning {
		s.mu.Unlock()
		return nil
	}
	idle := s.idleCh
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the scheduler
func (s *ScanScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Pipeline:        s.pipeline,
		State:           s.state,
		IntervalMinutes: s.intervalMinutes,
		CycleRunning:    s.cycleRunning,
		SkippedTicks:    s.skippedTicks,
		LastReport:      s.lastReport,
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		status.LastRunAt = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}
