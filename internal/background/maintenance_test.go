package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSweeper struct {
	name  string
	calls int32
	fn    func() (int, error)
}

func (f *fakeSweeper) Name() string { return f.name }

func (f *fakeSweeper) Sweep(ctx context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fn != nil {
		return f.fn()
	}
	return 0, nil
}

func TestMaintenanceManager_RunOnce_IsolatesFailures(t *testing.T) {
	failing := &fakeSweeper{name: "failing", fn: func() (int, error) { return 0, errors.New("db down") }}
	panicking := &fakeSweeper{name: "panicking", fn: func() (int, error) { panic("bad state") }}
	healthy := &fakeSweeper{name: "healthy", fn: func() (int, error) { return 3, nil }}

	mm := NewMaintenanceManager([]Sweeper{failing, panicking, healthy}, testLogger(), time.Minute, nil)
	mm.RunOnce(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&failing.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&panicking.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&healthy.calls))
}

func TestMaintenanceManager_StartStop(t *testing.T) {
	s := &fakeSweeper{name: "s"}
	mm := NewMaintenanceManager([]Sweeper{s}, testLogger(), 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		mm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&s.calls) >= 3 }, time.Second, 2*time.Millisecond)

	mm.Stop()
	mm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance manager did not stop")
	}
}

func TestMaintenanceManager_ContextCancel(t *testing.T) {
	mm := NewMaintenanceManager(nil, testLogger(), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		mm.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance manager ignored cancellation")
	}
}
