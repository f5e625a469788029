package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/pipeline"
	"github.com/busybox42/listflow/internal/queue"
)

// deliveryPipeline is the outgoing queue's stage list.
var deliveryPipeline = []string{"deliver"}

// Outgoing drains the outgoing queue through the delivery stage. Transient
// recipient failures move the item, narrowed to those recipients, onto the
// retry queue; the retry runner brings it back later.
type Outgoing struct {
	board    *queue.Switchboard
	retry    *queue.Switchboard
	lists    *list.Store
	registry *pipeline.Registry
	log      *slog.Logger
}

// NewOutgoing builds the outgoing handler.
func NewOutgoing(board, retry *queue.Switchboard, lists *list.Store, registry *pipeline.Registry) *Outgoing {
	return &Outgoing{
		board:    board,
		retry:    retry,
		lists:    lists,
		registry: registry,
		log:      slog.Default().With("component", "outgoing-runner"),
	}
}

func (h *Outgoing) Handle(ctx context.Context, item *queue.Item) error {
	listname := item.Meta.GetString(queue.MetaListname)
	lst, err := h.lists.Get(listname)
	if errors.Is(err, list.ErrUnknownList) {
		h.log.Warn("dropping outgoing item for unknown list", "list", listname, "item_id", item.ID)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve list %s: %w", listname, err)
	}

	msg, err := message.Parse(item.Message)
	if err != nil {
		h.log.Warn("dropping unparsable outgoing message", "list", listname, "item_id", item.ID, "error", err)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}

	stages, err := h.registry.Resolve(deliveryPipeline)
	if err != nil {
		return fmt.Errorf("failed to resolve delivery pipeline: %w", err)
	}

	res := h.registry.Run(ctx, stages, lst, msg, item.Meta)
	switch res.Code {
	case pipeline.CodeContinue:
		countDisposition(h.board, "ack")
		return h.board.Finish(item)

	case pipeline.CodeRetry:
		countDisposition(h.board, "requeued")
		return h.board.Requeue(item)

	case pipeline.CodePartial:
		if len(res.PermFailures) > 0 {
			h.log.Warn("permanent delivery failures",
				"list", lst.Name, "item_id", item.ID, "recipients", len(res.PermFailures))
		}
		if len(res.TempFailures) == 0 {
			countDisposition(h.board, "ack")
			return h.board.Finish(item)
		}
		item.Meta[queue.MetaRecips] = res.TempFailures
		countDisposition(h.board, "requeued")
		return h.board.MoveTo(h.retry, item)

	default:
		// The delivery stage never holds, discards or rejects.
		return fmt.Errorf("unexpected delivery result %v for item %s", res.Code, item.ID)
	}
}
