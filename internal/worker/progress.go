package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/maauso/faceswap-api/internal/job"
)

// progressCell forwards pipeline progress to the repository without
// blocking the frame loop. Only the most recent unsent value is kept.
type progressCell struct {
	ch   chan int
	done chan struct{}
	last atomic.Int64
}

func newProgressCell(ctx context.Context, repo job.Repository, jobID string, logger *slog.Logger) *progressCell {
	c := &progressCell{
		ch:   make(chan int, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		for p := range c.ch {
			if err := repo.UpdateProgress(ctx, jobID, p); err != nil {
				logger.Debug("failed to persist progress",
					slog.Int("progress", p),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
	return c
}

// Report never blocks. It must be called from a single goroutine.
func (c *progressCell) Report(percent int) error {
	if int64(percent) > c.last.Load() {
		c.last.Store(int64(percent))
	}
	for {
		select {
		case c.ch <- percent:
			return nil
		default:
		}
		// Drop the stale pending value and retry.
		select {
		case <-c.ch:
		default:
		}
	}
}

// Close flushes the pending value and waits for the writer to finish.
func (c *progressCell) Close() {
	close(c.ch)
	<-c.done
}

// Last returns the highest percentage reported.
func (c *progressCell) Last() int {
	return int(c.last.Load())
}
