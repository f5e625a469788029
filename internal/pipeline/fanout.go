package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// fanoutID derives a stable queue item ID from the list name and message
// ID. Re-running a fan-out stage after a crash then overwrites the earlier
// copy instead of enqueueing a second one.
func fanoutID(lst *list.List, msg *message.Message) string {
	h := sha1.Sum([]byte(lst.Name + "\x00" + msg.MessageID()))
	return hex.EncodeToString(h[:])
}

// toArchive hands a copy of the cooked message to the archive queue.
type toArchive struct {
	archive *queue.Switchboard
}

func (s *toArchive) Name() string { return "to-archive" }

func (s *toArchive) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	if !lst.Archive {
		return Continue()
	}
	am := queue.Metadata{queue.MetaListname: lst.Name}
	if sender := meta.GetString(queue.MetaSender); sender != "" {
		am[queue.MetaSender] = sender
	}
	if _, err := s.archive.EnqueueID(fanoutID(lst, msg), msg.Bytes(), am); err != nil {
		return Retry("failed to enqueue for archiving: " + err.Error())
	}
	return Continue()
}

// toOutgoing hands the cooked message to the outgoing queue for delivery.
type toOutgoing struct {
	outgoing *queue.Switchboard
}

func (s *toOutgoing) Name() string { return "to-outgoing" }

func (s *toOutgoing) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	om := queue.Metadata{
		queue.MetaListname: lst.Name,
		queue.MetaVerp:     meta.GetBool(queue.MetaVerp),
	}
	if recips := meta.GetStringList(queue.MetaRecips); recips != nil {
		om[queue.MetaRecips] = recips
	}
	if sender := meta.GetString(queue.MetaSender); sender != "" {
		om[queue.MetaSender] = sender
	}
	if _, err := s.outgoing.EnqueueID(fanoutID(lst, msg), msg.Bytes(), om); err != nil {
		return Retry("failed to enqueue for delivery: " + err.Error())
	}
	return Continue()
}
