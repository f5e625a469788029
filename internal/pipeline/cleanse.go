package pipeline

import (
	"context"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// cleanseHeaders are stripped from every post before it leaves the list:
// moderator approval tokens must never reach subscribers, and the tracking
// headers leak recipient behavior.
var cleanseHeaders = []string{
	"Approved",
	"Approve",
	"X-Approved",
	"X-Confirm-Reading-To",
	"Disposition-Notification-To",
	"Return-Receipt-To",
	"X-Pmrqc",
}

// cleanse strips sensitive headers. Removing an absent header is a no-op,
// so the stage is trivially safe to re-run.
type cleanse struct{}

func (s *cleanse) Name() string { return "cleanse" }

func (s *cleanse) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	for _, h := range cleanseHeaders {
		msg.Del(h)
	}
	return Continue()
}
