package bounce

import (
	"regexp"
	"strings"

	"github.com/busybox42/listflow/internal/message"
)

// Exchange non-delivery reports list recipients after "did not reach the
// following recipient(s):", either as display names with "SMTP=addr;"
// diagnostics or as bare "addr on <date>" lines.
var (
	exchangeIntroRe = regexp.MustCompile(`(?i)did not reach the following recipient`)
	exchangeSMTPRe  = regexp.MustCompile(`(?i)SMTP=([^;]+);`)
	exchangeOnRe    = regexp.MustCompile(`^\s*(\S+@\S+)\s+on\s`)
)

func parseExchange(msg *message.Message) Result {
	for _, p := range msg.TextParts() {
		var raw []string
		collecting := false
		for _, line := range splitLines(string(p.Body)) {
			if !collecting {
				if exchangeIntroRe.MatchString(line) {
					collecting = true
				}
				continue
			}
			if strings.TrimSpace(line) == "" && len(raw) > 0 {
				break
			}
			if m := exchangeSMTPRe.FindStringSubmatch(line); m != nil {
				raw = append(raw, m[1])
			} else if m := exchangeOnRe.FindStringSubmatch(line); m != nil {
				raw = append(raw, m[1])
			}
		}
		if addrs := cleanAll(raw); len(addrs) > 0 {
			return Result{Addresses: addrs}
		}
	}
	return Result{}
}
