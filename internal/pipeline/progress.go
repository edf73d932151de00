package pipeline

import (
	"log/slog"
	"time"
)

// ProgressSink receives completion percentages in [0, 100].
// Errors are logged and otherwise ignored.
type ProgressSink interface {
	Report(percent int) error
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(percent int) error

// Report calls f(percent).
func (f ProgressFunc) Report(percent int) error { return f(percent) }

// Observer receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	FrameProcessed()
	FrameSkipped()
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) FrameProcessed()                    {}
func (nopObserver) FrameSkipped()                      {}

// progressReporter turns frame counts into throttled sink calls.
type progressReporter struct {
	sink   ProgressSink
	total  int
	every  int
	logger *slog.Logger
}

// frame reports progress after count frames when count falls on the
// reporting interval. Nothing is reported while the total is unknown.
func (r *progressReporter) frame(count int) {
	if r.sink == nil || r.total <= 0 || r.every <= 0 || count%r.every != 0 {
		return
	}
	r.report(percentOf(count, r.total))
}

// done reports 100 unconditionally.
func (r *progressReporter) done() {
	if r.sink == nil {
		return
	}
	r.report(100)
}

// report invokes the sink, swallowing errors and panics.
func (r *progressReporter) report(percent int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("progress sink panicked", slog.Any("panic", rec))
		}
	}()
	if err := r.sink.Report(percent); err != nil {
		r.logger.Debug("progress sink failed",
			slog.Int("percent", percent),
			slog.String("error", err.Error()),
		)
	}
}

// percentOf returns floor(count/total*100) clamped to [0, 100].
func percentOf(count, total int) int {
	if total <= 0 {
		return 0
	}
	p := count * 100 / total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
