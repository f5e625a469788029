package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// Exim lists failures after "The following address(es) failed:", one
// indented address per line.
var (
	eximIntroRe = regexp.MustCompile(`(?i)the following address(\(es\)|es)? failed`)
	eximAddrRe  = regexp.MustCompile(`^\s+(\S+@\S+)`)
)

func parseExim(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, eximIntroRe, eximAddrRe, 1))}
}
