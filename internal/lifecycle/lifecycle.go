// Package lifecycle coordinates process-wide startup and graceful
// shutdown (L12 in SPEC_FULL.md), grounded on
// original_source/app/main.py's lifespan context manager: start the
// refresh scheduler and then the background price stream after the store
// is confirmed reachable, and tear them down in the reverse order before
// closing the store, so neither ever observes the other half-closed.
package lifecycle

import (
	"context"
	"time"

	"github.com/tvsignal/engine/internal/pricestream"
	"github.com/tvsignal/engine/internal/scheduler"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

// Coordinator owns the ordered start/stop of every long-running
// background component plus the store connection itself.
type Coordinator struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	stream    *pricestream.Stream
	logger    *observability.Logger
}

func New(s *store.Store, sched *scheduler.Scheduler, stream *pricestream.Stream, logger *observability.Logger) *Coordinator {
	return &Coordinator{store: s, scheduler: sched, stream: stream, logger: logger}
}

// Start launches the refresh scheduler and then the price stream, the
// boot order original_source/app/main.py's lifespan uses.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info(ctx, "lifecycle starting", nil)
	c.scheduler.Start(ctx)
	c.stream.Start(ctx)
}

// Shutdown stops the price stream, then the scheduler — the reverse of
// Start's order — before closing the store connection, bounded by ctx's
// deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info(ctx, "lifecycle stopping", nil)

	stopped := make(chan struct{})
	go func() {
		c.stream.Stop()
		c.scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		c.logger.Warn(ctx, "lifecycle shutdown timed out waiting for background loops", nil)
	case <-time.After(30 * time.Second):
		c.logger.Warn(ctx, "lifecycle shutdown exceeded hard cap", nil)
	}

	return c.store.Close()
}
