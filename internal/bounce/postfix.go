package bounce

import (
	"regexp"
	"strings"

	"github.com/busybox42/listflow/internal/message"
)

// Older Postfix installs send plain-text reports rather than DSNs: an
// intro naming the mail system, then failed recipients as indented
// "<address>: reason" lines.
var (
	postfixIntroRe = regexp.MustCompile(`(?i)^\s*(this is the (postfix|mail system)|the (postfix|\S+)? ?(mail system|program))`)
	postfixAddrRe  = regexp.MustCompile(`^\s*<([^>]+)>:`)
)

func parsePostfix(msg *message.Message) Result {
	for _, p := range msg.TextParts() {
		// The report text may ride in an attachment named by convention.
		name := strings.ToLower(p.Params["name"])
		if name != "" && !strings.Contains(name, "notification") && !strings.Contains(name, "undelivered") {
			continue
		}
		if addrs := scanBlock(string(p.Body), postfixIntroRe, postfixAddrRe, 1); len(addrs) > 0 {
			return Result{Addresses: cleanAll(addrs)}
		}
	}
	return Result{}
}
