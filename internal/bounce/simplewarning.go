package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// simplewarning recognizes delay notices that are not failures yet. A
// match ends classification outright: several of these templates also
// contain address-shaped lines that a later catch-all would happily
// misread as a hard bounce.
var simpleWarningRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)this is just a warning`),
	regexp.MustCompile(`(?i)warning: message .* delayed`),
	regexp.MustCompile(`(?i)message (has not|could not) .*been delivered .*(within|after) \d+ (hours|days)`),
	regexp.MustCompile(`(?i)will keep trying until the message is \d+ (hours|days) old`),
	regexp.MustCompile(`(?i)delivery of the following message has been delayed`),
	regexp.MustCompile(`(?i)you do not need to resend your message`),
}

func parseSimpleWarning(msg *message.Message) Result {
	for _, p := range msg.TextParts() {
		body := string(p.Body)
		for _, re := range simpleWarningRes {
			if re.MatchString(body) {
				return Result{Stop: true}
			}
		}
	}
	return Result{}
}
