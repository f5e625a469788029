package bounce

import (
	"regexp"
	"strings"

	"github.com/busybox42/listflow/internal/message"
)

// GroupWise marks the report with a fixed subject and lists each failed
// mailbox in parentheses after the recipient's display name.
var groupwiseAddrRe = regexp.MustCompile(`\((\S+@[^)\s]+)\)`)

func parseGroupWise(msg *message.Message) Result {
	if !strings.Contains(strings.ToLower(msg.Subject()), "message status - undeliverable") {
		return Result{}
	}
	var raw []string
	for _, p := range msg.TextParts() {
		for _, m := range groupwiseAddrRe.FindAllStringSubmatch(string(p.Body), -1) {
			raw = append(raw, m[1])
		}
	}
	return Result{Addresses: cleanAll(raw)}
}
