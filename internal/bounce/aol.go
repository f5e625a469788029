package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// AOL's block notice names the rejected recipients on bare lines after a
// fixed sentence.
var (
	aolIntroRe = regexp.MustCompile(`(?i)mail to the following recipients could not be delivered because they are not accepting mail from`)
	aolAddrRe  = regexp.MustCompile(`^\s*(\S+@\S+)\s*$`)
)

func parseAOL(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, aolIntroRe, aolAddrRe, 1))}
}
