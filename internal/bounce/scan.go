package bounce

import (
	"regexp"
	"strings"

	"github.com/busybox42/listflow/internal/message"
)

// Most vendor parsers are the same small state machine: seek an intro
// marker line, then collect addresses from the block that follows, and stop
// at the first blank line after the block has begun. A body that ends while
// still seeking yields nothing, never a partial result.

// scanBlock runs the seek/collect machine over one body. addrGroup is the
// capture group in addr that holds the address.
func scanBlock(body string, intro, addr *regexp.Regexp, addrGroup int) []string {
	var out []string
	collecting := false
	for _, line := range splitLines(body) {
		if !collecting {
			if intro.MatchString(line) {
				collecting = true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			if len(out) > 0 {
				break
			}
			continue
		}
		if m := addr.FindStringSubmatch(line); m != nil {
			out = append(out, m[addrGroup])
		}
	}
	return out
}

// scanParts applies scanBlock to every text part and returns the first
// part's matches.
func scanParts(msg *message.Message, intro, addr *regexp.Regexp, addrGroup int) []string {
	for _, p := range msg.TextParts() {
		if addrs := scanBlock(string(p.Body), intro, addr, addrGroup); len(addrs) > 0 {
			return addrs
		}
	}
	return nil
}

func splitLines(body string) []string {
	return strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
}

// cleanAddr strips the punctuation vendors wrap addresses in and rejects
// strings that are not address-shaped.
func cleanAddr(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "<>()[]\"',.:;")
	if !addrShaped(s) {
		return ""
	}
	return s
}

var addrShapeRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func addrShaped(s string) bool {
	return addrShapeRe.MatchString(s)
}

// fromMatches reports whether the report's From address contains the given
// marker, case-insensitively.
func fromMatches(msg *message.Message, marker string) bool {
	return strings.Contains(strings.ToLower(msg.Get("From")), marker)
}

func cleanAll(raw []string) []string {
	var out []string
	for _, r := range raw {
		if a := cleanAddr(r); a != "" {
			out = append(out, a)
		}
	}
	return out
}
