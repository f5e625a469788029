package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// Yahoo's daemon writes a short free-text notice with the failed addresses
// in angle brackets. The From check keeps this parser from firing on other
// vendors that reuse the same phrasing.
var (
	yahooIntroRe = regexp.MustCompile(`(?i)(unable to deliver message to the following address|mail to the following recipients could not be delivered)`)
	yahooAddrRe  = regexp.MustCompile(`^<(.+?)>:?\s*$`)
)

func parseYahoo(msg *message.Message) Result {
	if !fromMatches(msg, "mailer-daemon@yahoo") {
		return Result{}
	}
	return Result{Addresses: cleanAll(scanParts(msg, yahooIntroRe, yahooAddrRe, 1))}
}
