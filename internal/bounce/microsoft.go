package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// Old Microsoft SMTPSVC reports embed a session transcript; the failed
// recipients appear as indented addresses right after the transcript
// banner.
var (
	microsoftIntroRe = regexp.MustCompile(`(?i)transcript of session follows`)
	microsoftAddrRe  = regexp.MustCompile(`^\s+<?(\S+@[^>\s]+)>?\s*$`)
)

func parseMicrosoft(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, microsoftIntroRe, microsoftAddrRe, 1))}
}
