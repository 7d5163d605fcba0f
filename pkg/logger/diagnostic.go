package logger

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticRecord is an error-level log record captured for later scanning
type DiagnosticRecord struct {
	Time    time.Time
	Level   string
	Message string
	Source  string
	Attrs   map[string]interface{}
}

// DiagnosticWriter persists captured records
type DiagnosticWriter interface {
	AppendDiagnostic(ctx context.Context, rec DiagnosticRecord) error
}

// DiagnosticHandler wraps an slog.Handler and tees records at or above a
// threshold into a bounded queue. A single writer goroutine drains the queue;
// when it is full, records are dropped rather than blocking the caller.
type DiagnosticHandler struct {
	next   slog.Handler
	tee    *diagnosticTee
	attrs  []slog.Attr
	prefix string
}

type diagnosticTee struct {
	level    slog.Leveler
	queue    chan DiagnosticRecord
	writer   DiagnosticWriter
	fallback slog.Handler
	dropped  atomic.Int64
	done     chan struct{}
	once     sync.Once
}

// NewDiagnosticHandler creates a DiagnosticHandler. Call Run to start draining.
func NewDiagnosticHandler(next slog.Handler, writer DiagnosticWriter, level slog.Leveler, queueSize int) *DiagnosticHandler {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &DiagnosticHandler{
		next: next,
		tee: &diagnosticTee{
			level:    level,
			queue:    make(chan DiagnosticRecord, queueSize),
			writer:   writer,
			fallback: next,
			done:     make(chan struct{}),
		},
	}
}

// Enabled implements slog.Handler
func (h *DiagnosticHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *DiagnosticHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	if r.Level >= h.tee.level.Level() {
		rec := h.capture(r)
		select {
		case h.tee.queue <- rec:
		default:
			h.tee.dropped.Add(1)
		}
	}

	return err
}

// WithAttrs implements slog.Handler
func (h *DiagnosticHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup implements slog.Handler
func (h *DiagnosticHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// Dropped returns the number of records lost to a full queue
func (h *DiagnosticHandler) Dropped() int64 {
	return h.tee.dropped.Load()
}

// Run drains the queue until ctx is cancelled, then flushes what is left
// with a short deadline
func (h *DiagnosticHandler) Run(ctx context.Context) {
	defer h.tee.once.Do(func() { close(h.tee.done) })

	for {
		select {
		case rec := <-h.tee.queue:
			h.write(ctx, rec)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-h.tee.queue:
					h.write(flushCtx, rec)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned
func (h *DiagnosticHandler) Done() <-chan struct{} {
	return h.tee.done
}

func (h *DiagnosticHandler) write(ctx context.Context, rec DiagnosticRecord) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.tee.writer.AppendDiagnostic(writeCtx, rec); err != nil {
		// Written straight to the wrapped handler so a failing store cannot
		// feed records back into its own queue.
		fr := slog.NewRecord(time.Now(), slog.LevelWarn, "failed to persist diagnostic entry", 0)
		fr.AddAttrs(slog.String("error", err.Error()))
		_ = h.tee.fallback.Handle(ctx, fr)
	}
}

func (h *DiagnosticHandler) capture(r slog.Record) DiagnosticRecord {
	rec := DiagnosticRecord{
		Time:    r.Time,
		Level:   strings.ToLower(r.Level.String()),
		Message: r.Message,
		Attrs:   make(map[string]interface{}, len(h.attrs)+r.NumAttrs()),
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	for _, a := range h.attrs {
		addAttr(rec.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(rec.Attrs, h.prefix, a)
		return true
	})

	if errVal, ok := rec.Attrs["error"]; ok {
		rec.Message = fmt.Sprintf("%s: %v", rec.Message, errVal)
	}

	switch {
	case rec.Attrs["component"] != nil:
		rec.Source = fmt.Sprint(rec.Attrs["component"])
	case r.PC != 0:
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		rec.Source = frame.Function
	default:
		rec.Source = "unknown"
	}

	return rec
}

func addAttr(dst map[string]interface{}, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(dst, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if err, ok := v.Any().(error); ok {
		dst[prefix+a.Key] = err.Error()
		return
	}
	dst[prefix+a.Key] = v.Any()
}
