package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/busybox42/listflow/internal/metrics"
	"github.com/busybox42/listflow/internal/queue"
)

// FleetConfig sizes the runner fleet. Slice counts are per queue; each
// slice is one goroutine claiming a disjoint hash partition.
type FleetConfig struct {
	IncomingSlices int
	OutgoingSlices int
	BounceSlices   int

	Interval    time.Duration
	RetryPeriod time.Duration
}

// Fleet owns every runner goroutine of one process.
type Fleet struct {
	cfg FleetConfig

	incoming *queue.Switchboard
	outgoing *queue.Switchboard
	bounces  *queue.Switchboard
	retry    *queue.Switchboard

	incomingHandler Handler
	outgoingHandler Handler
	bounceHandler   Handler

	log *slog.Logger
}

// NewFleet assembles the fleet over the four processing queues.
func NewFleet(cfg FleetConfig, incoming, outgoing, bounces, retry *queue.Switchboard, inH, outH, bncH Handler) *Fleet {
	if cfg.IncomingSlices <= 0 {
		cfg.IncomingSlices = 1
	}
	if cfg.OutgoingSlices <= 0 {
		cfg.OutgoingSlices = 1
	}
	if cfg.BounceSlices <= 0 {
		cfg.BounceSlices = 1
	}
	return &Fleet{
		cfg:             cfg,
		incoming:        incoming,
		outgoing:        outgoing,
		bounces:         bounces,
		retry:           retry,
		incomingHandler: inH,
		outgoingHandler: outH,
		bounceHandler:   bncH,
		log:             slog.Default().With("component", "fleet"),
	}
}

// Run recovers orphaned in-flight items, then runs every runner goroutine
// until the context is cancelled or one of them fails.
func (f *Fleet) Run(ctx context.Context) error {
	for _, sb := range []*queue.Switchboard{f.incoming, f.outgoing, f.bounces, f.retry} {
		if _, err := sb.Recover(); err != nil {
			return fmt.Errorf("startup recovery of %s queue: %w", sb.Name(), err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	f.startSliced(g, ctx, "incoming", f.incoming, f.incomingHandler, f.cfg.IncomingSlices)
	f.startSliced(g, ctx, "outgoing", f.outgoing, f.outgoingHandler, f.cfg.OutgoingSlices)
	f.startSliced(g, ctx, "bounce", f.bounces, f.bounceHandler, f.cfg.BounceSlices)
	g.Go(func() error {
		return NewRetry(f.retry, f.outgoing, f.cfg.RetryPeriod).Run(ctx)
	})
	g.Go(func() error {
		return f.sampleDepths(ctx)
	})

	f.log.Info("runner fleet started",
		"incoming_slices", f.cfg.IncomingSlices,
		"outgoing_slices", f.cfg.OutgoingSlices,
		"bounce_slices", f.cfg.BounceSlices)
	return g.Wait()
}

func (f *Fleet) startSliced(g *errgroup.Group, ctx context.Context, name string, board *queue.Switchboard, h Handler, slices int) {
	for n := 0; n < slices; n++ {
		r := New(fmt.Sprintf("%s-%d", name, n), board.Slice(n, slices), h, f.cfg.Interval)
		g.Go(func() error { return r.Run(ctx) })
	}
}

// sampleDepths refreshes the queue depth gauges.
func (f *Fleet) sampleDepths(ctx context.Context) error {
	for {
		for _, sb := range []*queue.Switchboard{f.incoming, f.outgoing, f.bounces, f.retry} {
			n, err := sb.Len()
			if err != nil {
				continue
			}
			metrics.QueueDepth.WithLabelValues(sb.Name()).Set(float64(n))
		}
		if sleep(ctx, 30*time.Second) {
			return ctx.Err()
		}
	}
}
