package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// Netscape Messaging Server reports name the recipient on a "Recipient:"
// line after its undeliverable banner.
var (
	netscapeIntroRe = regexp.MustCompile(`(?i)this message was undeliverable due to the following reason`)
	netscapeAddrRe  = regexp.MustCompile(`(?i)^\s*(recipient|address):\s*<?(\S+@[^>\s]+)>?`)
)

func parseNetscape(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, netscapeIntroRe, netscapeAddrRe, 2))}
}
