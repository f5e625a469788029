package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/busybox42/listflow/internal/cache"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// seenTTL bounds how long a message identity is remembered for loop
// detection.
const seenTTL = 7 * 24 * time.Hour

// loopDetect discards mail that has already passed through this list:
// either it carries the list's own X-BeenThere header, or its message
// identity is already recorded in the seen cache under a different queue
// item. The same item re-running after a requeue finds its own token and
// passes, which keeps the stage idempotent.
type loopDetect struct {
	seen cache.SeenCache
}

func (s *loopDetect) Name() string { return "loop-detect" }

func (s *loopDetect) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	// cook-headers sets the cooked flag when it adds our X-Beenthere, so a
	// requeued item is not mistaken for its own loop.
	if !meta.GetBool(queue.MetaCooked) {
		posting := strings.ToLower(lst.PostingAddress())
		for _, v := range msg.Values("X-Beenthere") {
			if strings.Contains(strings.ToLower(v), posting) {
				return Discard("message has already been through this list")
			}
		}
	}

	msgid := msg.MessageID()
	if msgid == "" || s.seen == nil {
		return Continue()
	}
	key := "seen:" + lst.Name + "/" + strings.ToLower(msgid)
	owner := meta.GetString(queue.MetaItemID)
	prev, err := s.seen.MarkSeen(ctx, key, owner, seenTTL)
	if err != nil {
		// A broken cache must not stall list traffic; skip the check.
		return Continue()
	}
	if prev != "" && prev != owner {
		return Discard("duplicate message-id for this list")
	}
	return Continue()
}
