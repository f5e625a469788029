package pipeline

import (
	"context"
	"errors"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// emergency holds everything while the list is under emergency moderation.
type emergency struct{}

func (s *emergency) Name() string { return "emergency" }

func (s *emergency) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	if meta.GetBool(queue.MetaApproved) {
		return Continue()
	}
	if lst.EmergencyModeration {
		return Hold("emergency moderation is in effect for this list")
	}
	return Continue()
}

// moderate holds posts from moderated members and, when the list says so,
// from non-members.
type moderate struct {
	members membership.Store
}

func (s *moderate) Name() string { return "moderate" }

func (s *moderate) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	// A moderator already approved this post; it re-runs the full
	// pipeline, holding stages included, so recipient calculation and
	// fan-out still happen.
	if meta.GetBool(queue.MetaApproved) {
		return Continue()
	}
	sender := meta.GetString(queue.MetaSender)
	if sender == "" {
		sender = msg.FromAddress()
	}
	if sender == "" {
		return Hold("post with no discernible sender")
	}

	member, err := s.members.GetMember(ctx, lst.Name, sender)
	if errors.Is(err, membership.ErrNotFound) {
		if lst.ModerateNonmembers {
			return Hold("post by non-member " + sender)
		}
		return Continue()
	}
	if err != nil {
		return Retry("membership lookup failed: " + err.Error())
	}
	if member.Moderated {
		return Hold("post by moderated member " + sender)
	}
	return Continue()
}
