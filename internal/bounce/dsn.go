package bounce

import (
	"strings"

	"github.com/busybox42/listflow/internal/message"
)

// parseDSN handles RFC 3464 delivery status notifications, the one format
// with actual structure. It walks every message/delivery-status part,
// reads the per-recipient field groups and keeps recipients whose Action
// is failed. A well-formed report whose recipients are all delayed is a
// warning: parsing stops there so no vendor heuristic downstream can
// mistake the embedded original message for a hard bounce.
func parseDSN(msg *message.Message) Result {
	parts := msg.PartsByType("message/delivery-status")
	if len(parts) == 0 {
		return Result{}
	}

	var failed []string
	sawRecipient := false
	for _, p := range parts {
		for _, group := range fieldGroups(string(p.Body)) {
			action, hasAction := group["action"]
			if !hasAction {
				continue
			}
			sawRecipient = true
			if !strings.HasPrefix(strings.ToLower(action), "fail") {
				continue
			}
			addr := group["original-recipient"]
			if addr == "" {
				addr = group["final-recipient"]
			}
			if a := cleanAddr(stripAddressType(addr)); a != "" {
				failed = append(failed, a)
			}
		}
	}
	if len(failed) > 0 {
		return Result{Addresses: failed}
	}
	if sawRecipient {
		return Result{Stop: true}
	}
	return Result{}
}

// fieldGroups splits a delivery-status body into its blank-line separated
// field groups, each a lowercase-keyed map. Continuation lines fold into
// the previous field.
func fieldGroups(body string) []map[string]string {
	var groups []map[string]string
	current := map[string]string{}
	lastKey := ""
	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = map[string]string{}
		}
		lastKey = ""
	}
	for _, line := range splitLines(body) {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastKey != "" {
			current[lastKey] += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lastKey = strings.ToLower(strings.TrimSpace(key))
		current[lastKey] = strings.TrimSpace(value)
	}
	flush()
	return groups
}

// stripAddressType drops the "rfc822;" address-type prefix.
func stripAddressType(v string) string {
	if _, addr, ok := strings.Cut(v, ";"); ok {
		return addr
	}
	return v
}
