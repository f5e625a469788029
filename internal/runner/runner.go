// Package runner implements the worker loops that drain the switchboards:
// incoming posts through the list pipeline, outgoing copies to the
// transport, bounce reports through the classifier, and the retry queue
// back to outgoing on a fixed snooze.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/metrics"
	"github.com/busybox42/listflow/internal/queue"
)

// DefaultInterval is the sleep between polls of an empty queue.
const DefaultInterval = 1 * time.Second

// Handler disposes of one claimed item. The handler owns the item's fate:
// by return it must have finished, requeued or moved the item. An error
// return means the handler could not dispose of it at all; the runner
// requeues the item so it is retried rather than left in-flight.
type Handler interface {
	Handle(ctx context.Context, item *queue.Item) error
}

// Runner drains one switchboard with one handler.
type Runner struct {
	name     string
	board    *queue.Switchboard
	handler  Handler
	interval time.Duration
	log      *slog.Logger
}

// New builds a runner. A zero interval falls back to DefaultInterval.
func New(name string, board *queue.Switchboard, handler Handler, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		name:     name,
		board:    board,
		handler:  handler,
		interval: interval,
		log:      slog.Default().With("component", "runner", "runner", name),
	}
}

// Run loops until the context is cancelled: claim one item, dispatch it,
// repeat. An empty queue or a queue read error sleeps one interval rather
// than busy-polling.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("runner started", "queue", r.board.Name(), "interval", r.interval)
	for {
		if err := ctx.Err(); err != nil {
			r.log.Info("runner stopped", "queue", r.board.Name())
			return err
		}
		item, err := r.board.Dequeue()
		if err != nil {
			r.log.Error("failed to claim from queue", "queue", r.board.Name(), "error", err)
			if sleep(ctx, r.interval) {
				return ctx.Err()
			}
			continue
		}
		if item == nil {
			if sleep(ctx, r.interval) {
				return ctx.Err()
			}
			continue
		}
		if err := r.handler.Handle(ctx, item); err != nil {
			r.log.Error("handler failed to dispose of item",
				"queue", r.board.Name(), "item_id", item.ID, "error", err)
			if rqErr := r.board.Requeue(item); rqErr != nil {
				r.log.Error("failed to requeue item after handler error",
					"item_id", item.ID, "error", rqErr)
			}
		}
	}
}

// sleep waits one interval, returning true when the context was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func countDisposition(board *queue.Switchboard, disposition string) {
	metrics.Dispositions.WithLabelValues(board.Name(), disposition).Inc()
}
