package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/bounce"
	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/lock"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// Bounce drains the bounce queue: recover which recipients a failure
// report is about, record the bounce against their membership, and drop
// the report. A VERP'd To address answers the question outright; anything
// else goes through the classifier.
type Bounce struct {
	board      *queue.Switchboard
	lists      *list.Store
	members    membership.Store
	classifier *bounce.Classifier

	lockDir     string
	lockTimeout time.Duration

	log *slog.Logger
}

// NewBounce builds the bounce handler.
func NewBounce(board *queue.Switchboard, lists *list.Store, members membership.Store, classifier *bounce.Classifier, lockDir string, lockTimeout time.Duration) *Bounce {
	return &Bounce{
		board:       board,
		lists:       lists,
		members:     members,
		classifier:  classifier,
		lockDir:     lockDir,
		lockTimeout: lockTimeout,
		log:         slog.Default().With("component", "bounce-runner"),
	}
}

func (h *Bounce) Handle(ctx context.Context, item *queue.Item) error {
	listname := item.Meta.GetString(queue.MetaListname)
	lst, err := h.lists.Get(listname)
	if errors.Is(err, list.ErrUnknownList) {
		h.log.Warn("dropping bounce for unknown list", "list", listname, "item_id", item.ID)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve list %s: %w", listname, err)
	}

	msg, err := message.Parse(item.Message)
	if err != nil {
		h.log.Warn("dropping unparsable bounce", "list", listname, "item_id", item.ID, "error", err)
		countDisposition(h.board, "dropped")
		return h.board.Finish(item)
	}

	addrs := h.recoverAddresses(lst, msg)
	if len(addrs) == 0 {
		// No information; explicitly not "nothing bounced".
		countDisposition(h.board, "ack")
		return h.board.Finish(item)
	}

	l := lock.New(h.lockDir, lst.Name)
	if err := l.Acquire(h.lockTimeout); err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			countDisposition(h.board, "requeued")
			return h.board.Requeue(item)
		}
		return fmt.Errorf("failed to acquire list lock for %s: %w", listname, err)
	}
	defer l.Release()

	now := time.Now()
	for _, addr := range addrs {
		if err := h.members.RecordBounce(ctx, lst.Name, addr, now); err != nil {
			if errors.Is(err, membership.ErrNotFound) || errors.Is(err, membership.ErrNotSupported) {
				h.log.Debug("bounce for unmanaged address", "list", lst.Name, "address", addr, "error", err)
				continue
			}
			h.log.Error("failed to record bounce, requeueing", "list", lst.Name, "address", addr, "error", err)
			countDisposition(h.board, "requeued")
			return h.board.Requeue(item)
		}
		h.log.Info("bounce recorded", "list", lst.Name, "address", addr)
	}
	countDisposition(h.board, "ack")
	return h.board.Finish(item)
}

// recoverAddresses identifies the bounced recipients. A report addressed
// to a VERP-encoded mailbox names its recipient in the address itself, no
// parsing needed; otherwise the classifier has a go at the body.
func (h *Bounce) recoverAddresses(lst *list.List, msg *message.Message) []string {
	for _, v := range msg.Values("To") {
		if recip, ok := delivery.DecodeVERP(v); ok {
			h.log.Info("bounce recipient recovered from envelope", "list", lst.Name, "address", recip)
			return []string{recip}
		}
	}
	for _, a := range msg.Addresses("To") {
		if recip, ok := delivery.DecodeVERP(a); ok {
			h.log.Info("bounce recipient recovered from envelope", "list", lst.Name, "address", recip)
			return []string{recip}
		}
	}

	res := h.classifier.Classify(msg)
	if res.Stop {
		h.log.Info("bounce is a non-actionable warning", "list", lst.Name)
		return nil
	}
	if len(res.Addresses) == 0 {
		h.log.Info("bounce format not recognized, no information", "list", lst.Name)
		return nil
	}
	return res.Addresses
}
