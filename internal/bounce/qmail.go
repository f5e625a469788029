package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// qmail announces itself and then lists each failed recipient on its own
// "<address>:" line, reason indented below.
var (
	qmailIntroRe = regexp.MustCompile(`(?i)^hi\. this is the qmail-send program|^this is the mail delivery agent at|wasn't able to deliver your message`)
	qmailAddrRe  = regexp.MustCompile(`^<(.+?)>:?\s*$`)
)

func parseQmail(msg *message.Message) Result {
	return Result{Addresses: cleanAll(scanParts(msg, qmailIntroRe, qmailAddrRe, 1))}
}
