package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/lock"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/pipeline"
	"github.com/busybox42/listflow/internal/queue"
)

// Incoming dispatches posts from the incoming queue through each list's
// posting pipeline and maps the pipeline result to a queue disposition.
type Incoming struct {
	board    *queue.Switchboard
	hold     *queue.Switchboard
	retry    *queue.Switchboard
	lists    *list.Store
	registry *pipeline.Registry
	notices  delivery.Deliverer

	lockDir     string
	lockTimeout time.Duration

	log *slog.Logger
}

// IncomingConfig wires an Incoming handler.
type IncomingConfig struct {
	Board    *queue.Switchboard
	Hold     *queue.Switchboard
	Retry    *queue.Switchboard
	Lists    *list.Store
	Registry *pipeline.Registry
	// Notices delivers reject explanations back to senders.
	Notices     delivery.Deliverer
	LockDir     string
	LockTimeout time.Duration
}

// NewIncoming builds the incoming handler.
func NewIncoming(cfg IncomingConfig) *Incoming {
	return &Incoming{
		board:       cfg.Board,
		hold:        cfg.Hold,
		retry:       cfg.Retry,
		lists:       cfg.Lists,
		registry:    cfg.Registry,
		notices:     cfg.Notices,
		lockDir:     cfg.LockDir,
		lockTimeout: cfg.LockTimeout,
		log:         slog.Default().With("component", "incoming-runner"),
	}
}

func (h *Incoming) Handle(ctx context.Context, item *queue.Item) error {
	listname := item.Meta.GetString(queue.MetaListname)
	lst, err := h.lists.Get(listname)
	if errors.Is(err, list.ErrUnknownList) {
		h.log.Warn("dropping item for unknown list", "list", listname, "item_id", item.ID)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve list %s: %w", listname, err)
	}

	msg, err := message.Parse(item.Message)
	if err != nil {
		h.log.Warn("dropping unparsable message", "list", listname, "item_id", item.ID, "error", err)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}

	item.Meta[queue.MetaItemID] = item.ID
	item.Meta.SetDefault(queue.MetaSender, msg.FromAddress())

	stages, err := h.registry.ResolveFor(lst, "posting", item.Meta)
	if err != nil {
		h.log.Error("dropping item with unresolvable pipeline", "list", listname, "item_id", item.ID, "error", err)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}

	// The whole pipeline runs under the list lock: recipient calculation
	// and archive fan-out read and advance per-list state.
	l := lock.New(h.lockDir, lst.Name)
	if err := l.Acquire(h.lockTimeout); err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			h.log.Info("list lock busy, requeueing", "list", listname, "item_id", item.ID)
			countDisposition(h.board, "requeued")
			return h.board.Requeue(item)
		}
		return fmt.Errorf("failed to acquire list lock for %s: %w", listname, err)
	}
	defer l.Release()

	res := h.registry.Run(ctx, stages, lst, msg, item.Meta)
	item.Message = msg.Bytes()
	return h.dispose(ctx, lst, item, res)
}

func (h *Incoming) dispose(ctx context.Context, lst *list.List, item *queue.Item, res pipeline.Result) error {
	switch res.Code {
	case pipeline.CodeContinue:
		countDisposition(h.board, "ack")
		return h.board.Finish(item)

	case pipeline.CodeHold:
		item.Meta[queue.MetaReason] = res.Reason
		h.log.Info("message held for moderation", "list", lst.Name, "item_id", item.ID, "reason", res.Reason)
		countDisposition(h.board, "held")
		return h.board.MoveTo(h.hold, item)

	case pipeline.CodeDiscard:
		h.log.Info("message discarded", "list", lst.Name, "item_id", item.ID, "reason", res.Reason)
		countDisposition(h.board, "discarded")
		return h.board.Finish(item)

	case pipeline.CodeReject:
		h.sendRejectNotice(ctx, lst, item, res.Notice)
		countDisposition(h.board, "rejected")
		return h.board.Finish(item)

	case pipeline.CodeRetry:
		h.log.Info("transient stage failure, requeueing",
			"list", lst.Name, "item_id", item.ID, "reason", res.Reason)
		countDisposition(h.board, "requeued")
		return h.board.Requeue(item)

	case pipeline.CodePartial:
		return h.disposePartial(lst, item, res)

	default:
		return fmt.Errorf("unknown pipeline result %v for item %s", res.Code, item.ID)
	}
}

// disposePartial narrows the recipient set to the transient failures and
// parks the item on the retry queue. Permanent failures are logged and not
// retried; when nothing is left to retry the item is done.
func (h *Incoming) disposePartial(lst *list.List, item *queue.Item, res pipeline.Result) error {
	if len(res.PermFailures) > 0 {
		h.log.Warn("permanent delivery failures",
			"list", lst.Name, "item_id", item.ID, "recipients", len(res.PermFailures))
	}
	if len(res.TempFailures) == 0 {
		countDisposition(h.board, "ack")
		return h.board.Finish(item)
	}
	item.Meta[queue.MetaRecips] = res.TempFailures
	h.log.Info("transient delivery failures, scheduling retry",
		"list", lst.Name, "item_id", item.ID, "recipients", len(res.TempFailures))
	countDisposition(h.board, "requeued")
	return h.board.MoveTo(h.retry, item)
}

// sendRejectNotice mails the pipeline's explanation back to the sender.
// Notice delivery is best-effort: the rejection stands even when the
// notice cannot be sent.
func (h *Incoming) sendRejectNotice(ctx context.Context, lst *list.List, item *queue.Item, notice string) {
	sender := item.Meta.GetString(queue.MetaSender)
	if sender == "" || h.notices == nil {
		return
	}
	subject := "Your message to " + lst.PostingAddress() + " was rejected"
	raw := message.Compose(lst.OwnerAddress(), sender, subject, notice)
	if _, err := h.notices.Deliver(ctx, raw, lst.BounceAddress(), []string{sender}); err != nil {
		h.log.Warn("failed to send reject notice", "list", lst.Name, "sender", sender, "error", err)
	}
	h.log.Info("message rejected", "list", lst.Name, "item_id", item.ID, "sender", sender)
}
