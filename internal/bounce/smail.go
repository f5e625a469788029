package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// smail reports end with "Failed addresses follow:" and then the
// addresses, possibly with transport noise after each one.
var (
	smailIntroRe = regexp.MustCompile(`(?i)failed address(es)? follow`)
	smailAddrRe  = regexp.MustCompile(`^\s*<?(\S+@[^>\s]+)>?`)
)

func parseSmail(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, smailIntroRe, smailAddrRe, 1))}
}
