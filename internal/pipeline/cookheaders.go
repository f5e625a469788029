package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// cookHeaders decorates the post with the list's standard headers and the
// configured subject prefix. Every mutation checks for its own previous
// application first, so re-running after a requeue does not stack prefixes
// or duplicate headers.
type cookHeaders struct{}

func (s *cookHeaders) Name() string { return "cook-headers" }

func (s *cookHeaders) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	if prefix := lst.SubjectPrefix; prefix != "" {
		subject := msg.Subject()
		if !strings.Contains(subject, strings.TrimSpace(prefix)) {
			msg.Set("Subject", prefix+subject)
		}
	}

	posting := lst.PostingAddress()
	if !beenThere(msg, posting) {
		msg.Header.Add("X-Beenthere", posting)
	}
	meta[queue.MetaCooked] = true
	msg.Set("X-Mailing-List", posting)
	msg.Set("List-Id", fmt.Sprintf("%s <%s.%s>", lst.Description, lst.Name, lst.Host))
	msg.Set("List-Post", "<mailto:"+posting+">")
	msg.Set("List-Help", "<mailto:"+lst.RequestAddress()+"?subject=help>")
	msg.Set("List-Unsubscribe", "<mailto:"+lst.RequestAddress()+"?subject=unsubscribe>")
	msg.Set("Precedence", "bulk")
	if msg.Get("Sender") == "" {
		msg.Set("Sender", lst.BounceAddress())
	}
	msg.Set("Errors-To", lst.BounceAddress())

	// Default only: a stage that decided verp earlier wins.
	meta.SetDefault(queue.MetaVerp, lst.Verp)
	return Continue()
}

func beenThere(msg *message.Message, posting string) bool {
	want := strings.ToLower(posting)
	for _, v := range msg.Values("X-Beenthere") {
		if strings.Contains(strings.ToLower(v), want) {
			return true
		}
	}
	return false
}
