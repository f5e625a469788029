// Package inject is the entry point for mail arriving from outside the
// runner fleet: command-line injection, MTA drop scripts, tests. It writes
// the message into the incoming queue and returns the queue item ID.
package inject

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// Injector validates and enqueues inbound posts.
type Injector struct {
	incoming *queue.Switchboard
	lists    *list.Store
	log      *slog.Logger
}

// New builds an injector over the incoming queue.
func New(incoming *queue.Switchboard, lists *list.Store) *Injector {
	return &Injector{
		incoming: incoming,
		lists:    lists,
		log:      slog.Default().With("component", "inject"),
	}
}

// Inject enqueues one message for the named list and returns the item ID.
// The list must exist and the message must at least parse as mail.
// explicitRecips, when non-nil, overrides recipient calculation: the
// pipeline delivers to exactly these addresses instead of the roster.
func (i *Injector) Inject(listname string, raw []byte, explicitRecips []string) (string, error) {
	if _, err := i.lists.Get(listname); err != nil {
		return "", fmt.Errorf("cannot inject for %s: %w", listname, err)
	}
	msg, err := message.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("message does not parse: %w", err)
	}

	meta := queue.Metadata{
		queue.MetaListname: listname,
		queue.MetaReceived: time.Now().UTC().Format(time.RFC3339),
	}
	if sender := msg.FromAddress(); sender != "" {
		meta[queue.MetaSender] = sender
	}
	if explicitRecips != nil {
		meta[queue.MetaRecips] = explicitRecips
	}

	id, err := i.incoming.Enqueue(raw, meta)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue injected message: %w", err)
	}
	i.log.Info("message injected", "list", listname, "item_id", id, "bytes", len(raw))
	return id, nil
}
