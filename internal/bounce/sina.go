package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// sina.com's daemon wraps each failed address in angle brackets below a
// short English banner; the rest of the body is localized free text.
var (
	sinaIntroRe = regexp.MustCompile(`(?i)unable to deliver message to the following address`)
	sinaAddrRe  = regexp.MustCompile(`^<(.+?)>:?\s*$`)
)

func parseSina(msg *message.Message) Result {
	if !fromMatches(msg, "mailer-daemon@sina.com") {
		return Result{}
	}
	return Result{Addresses: cleanAll(scanParts(msg, sinaIntroRe, sinaAddrRe, 1))}
}
