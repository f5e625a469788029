package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/queue"
)

// DefaultRetryPeriod is the snooze between retry passes.
const DefaultRetryPeriod = 15 * time.Minute

// Retry moves everything on the retry queue back to outgoing, then sleeps
// a fixed period. It always sleeps between passes, even when the queue had
// work: the point of the retry queue is to wait, not to race.
type Retry struct {
	board    *queue.Switchboard
	outgoing *queue.Switchboard
	period   time.Duration
	log      *slog.Logger
}

// NewRetry builds the retry runner. A zero period falls back to
// DefaultRetryPeriod.
func NewRetry(board, outgoing *queue.Switchboard, period time.Duration) *Retry {
	if period <= 0 {
		period = DefaultRetryPeriod
	}
	return &Retry{
		board:    board,
		outgoing: outgoing,
		period:   period,
		log:      slog.Default().With("component", "retry-runner"),
	}
}

// Run loops until the context is cancelled: drain one pass, sleep the
// period.
func (r *Retry) Run(ctx context.Context) error {
	r.log.Info("retry runner started", "period", r.period)
	for {
		r.drain(ctx)
		if sleep(ctx, r.period) {
			r.log.Info("retry runner stopped")
			return ctx.Err()
		}
	}
}

// drain moves every currently claimable item to the outgoing queue.
func (r *Retry) drain(ctx context.Context) {
	moved := 0
	for ctx.Err() == nil {
		item, err := r.board.Dequeue()
		if err != nil {
			r.log.Error("failed to claim from retry queue", "error", err)
			return
		}
		if item == nil {
			break
		}
		if err := r.board.MoveTo(r.outgoing, item); err != nil {
			r.log.Error("failed to move item back to outgoing", "item_id", item.ID, "error", err)
			if rqErr := r.board.Requeue(item); rqErr != nil {
				r.log.Error("failed to requeue retry item", "item_id", item.ID, "error", rqErr)
			}
			return
		}
		countDisposition(r.board, "ack")
		moved++
	}
	if moved > 0 {
		r.log.Info("retry pass complete", "moved", moved)
	}
}
