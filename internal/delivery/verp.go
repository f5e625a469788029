package delivery

import (
	"fmt"
	"regexp"
	"strings"
)

// VERP envelope senders encode the recipient into the bounce address, so a
// later delivery failure identifies the exact recipient without parsing the
// report body:
//
//	dev-bounces+alice=example.com@lists.example.com
//
// EncodeVERP and DecodeVERP are inverses for well-formed addresses.

var verpRe = regexp.MustCompile(`^(?P<bounce>[^+@]+)\+(?P<mailbox>[^=@]+)=(?P<host>[^@]+)@(?P<listhost>.+)$`)

// EncodeVERP builds the per-recipient envelope sender from the list's
// bounce address and the recipient.
func EncodeVERP(bounceAddress, recipient string) string {
	local, host, ok := strings.Cut(bounceAddress, "@")
	if !ok {
		return bounceAddress
	}
	rcptLocal, rcptHost, ok := strings.Cut(recipient, "@")
	if !ok {
		return bounceAddress
	}
	return fmt.Sprintf("%s+%s=%s@%s", local, rcptLocal, rcptHost, host)
}

// DecodeVERP recovers the original recipient from a VERP-encoded address.
// The second return value is false when the address is not VERP-shaped.
func DecodeVERP(address string) (string, bool) {
	m := verpRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(address)))
	if m == nil {
		return "", false
	}
	mailbox := m[verpRe.SubexpIndex("mailbox")]
	host := m[verpRe.SubexpIndex("host")]
	return mailbox + "@" + host, true
}
