package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// Caiwireless reports open with a bare "Your message" line and name the
// recipient on a "to : address" line.
var (
	caiIntroRe = regexp.MustCompile(`(?i)^\s*your message\s*$`)
	caiAddrRe  = regexp.MustCompile(`(?i)^\s*to\s*:\s*(\S+@\S+)`)
)

func parseCaiwireless(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, caiIntroRe, caiAddrRe, 1))}
}
