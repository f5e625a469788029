package bounce

import (
	"regexp"

	"github.com/busybox42/listflow/internal/message"
)

// simplematch is the catch-all: a table of intro/address regex pairs
// covering the long tail of one-off MTA templates. It runs near the end of
// the priority order because its patterns are loose; anything a precise
// parser can claim must already have been claimed.
type simplePattern struct {
	intro *regexp.Regexp
	addr  *regexp.Regexp
	group int
}

var simpleMatchPatterns = []simplePattern{
	{
		intro: regexp.MustCompile(`(?i)the following address(es)? (had|have) (permanent fatal errors|delivery problems)`),
		addr:  regexp.MustCompile(`^\s*<?(\S+@[^>\s,]+)>?[,.]?`),
		group: 1,
	},
	{
		intro: regexp.MustCompile(`(?i)could not be delivered to\s*:?\s*$`),
		addr:  regexp.MustCompile(`^\s*<?(\S+@[^>\s]+)>?\s*$`),
		group: 1,
	},
	{
		intro: regexp.MustCompile(`(?i)your message could not be delivered to the following recipient`),
		addr:  regexp.MustCompile(`^\s*<?(\S+@[^>\s,:]+)>?[,.:]?`),
		group: 1,
	},
	{
		intro: regexp.MustCompile(`(?i)^\s*failed recipient(s)?\s*:?\s*$`),
		addr:  regexp.MustCompile(`^\s*<?(\S+@[^>\s]+)>?\s*$`),
		group: 1,
	},
	{
		intro: regexp.MustCompile(`(?i)permanent failure delivering message to`),
		addr:  regexp.MustCompile(`<(\S+@[^>\s]+)>`),
		group: 1,
	},
}

func parseSimpleMatch(msg *message.Message) Result {
	for _, pat := range simpleMatchPatterns {
		if addrs := cleanAll(scanParts(msg, pat.intro, pat.addr, pat.group)); len(addrs) > 0 {
			return Result{Addresses: addrs}
		}
	}
	return Result{}
}
