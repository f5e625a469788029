package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// LLNL's sendmail wrapper reports one failure per summary line, the
// address set off by commas.
var llnlAddrRe = regexp.MustCompile(`(?i)^\s*sorry, mail to (\S+@[^,\s]+),? (failed|was not delivered)`)

func parseLLNL(msg *message.Message) Result {
	var raw []string
	for _, p := range msg.TextParts() {
		for _, line := range splitLines(string(p.Body)) {
			if m := llnlAddrRe.FindStringSubmatch(line); m != nil {
				raw = append(raw, m[1])
			}
		}
	}
	return Result{Addresses: cleanAll(raw)}
}
