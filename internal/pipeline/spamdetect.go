package pipeline

import (
	"context"
	"fmt"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// spamDetect applies the list's header filter rules in order. The first
// matching rule decides the disposition.
type spamDetect struct{}

func (s *spamDetect) Name() string { return "spam-detect" }

func (s *spamDetect) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	if meta.GetBool(queue.MetaApproved) {
		return Continue()
	}
	for i := range lst.HeaderFilters {
		hf := &lst.HeaderFilters[i]
		matched := false
		for _, v := range msg.Values(hf.Header) {
			if hf.Matches(v) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		reason := fmt.Sprintf("header filter matched: %s ~ /%s/", hf.Header, hf.Pattern)
		switch hf.Action {
		case list.ActionHold:
			return Hold(reason)
		case list.ActionReject:
			notice := hf.Notice
			if notice == "" {
				notice = "Your message matched this list's content filters and was not accepted."
			}
			return Reject(notice)
		case list.ActionDiscard:
			return Discard(reason)
		}
	}
	return Continue()
}
