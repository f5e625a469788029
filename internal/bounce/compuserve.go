package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// CompuServe's postmaster writes free text with "Invalid receiver address"
// or "Receiver not found" lines naming the failed mailbox.
var compuserveAddrRe = regexp.MustCompile(`(?i)^\s*(invalid receiver address|receiver not found):\s*(\S+@\S+)`)

func parseCompuserve(msg *message.Message) Result {
	if !fromMatches(msg, "postmaster@compuserve.com") {
		return Result{}
	}
	var raw []string
	for _, p := range msg.TextParts() {
		for _, line := range splitLines(string(p.Body)) {
			if m := compuserveAddrRe.FindStringSubmatch(line); m != nil {
				raw = append(raw, m[2])
			}
		}
	}
	return Result{Addresses: cleanAll(raw)}
}
