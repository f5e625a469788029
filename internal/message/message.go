// Package message wraps parsed RFC 822 mail for the processing pipeline and
// the bounce classifier. Headers are kept as a mutable textproto.Header so
// stages can rewrite them and reserialize without touching the body; the
// MIME part tree is materialized lazily and defensively, since bounce mail
// arrives from arbitrary, often non-compliant MTAs.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/encoding/charmap"
)

// Part is one node of the MIME tree. Leaf parts carry their decoded body;
// multipart and message/rfc822 parts carry children.
type Part struct {
	MediaType string
	Params    map[string]string
	Header    message.Header
	Body      []byte
	Parts     []*Part
}

// Message is a parsed mail message.
type Message struct {
	Header textproto.Header

	body []byte
	root *Part
}

// Parse splits raw mail into header and body. It succeeds on anything with
// a recognizable header block; MIME structure problems surface later, per
// part, when the tree is walked.
func Parse(raw []byte) (*Message, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return &Message{Header: hdr, body: body}, nil
}

// Bytes reserializes the message with any header mutations applied. The
// body bytes are passed through untouched.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, m.Header); err != nil {
		return nil
	}
	buf.Write(m.body)
	return buf.Bytes()
}

// Body returns the raw, undecoded message body.
func (m *Message) Body() []byte { return m.body }

// Get returns a header value, "" when absent.
func (m *Message) Get(key string) string { return m.Header.Get(key) }

// Set replaces a header field.
func (m *Message) Set(key, value string) { m.Header.Set(key, value) }

// Del removes all fields with the given key.
func (m *Message) Del(key string) { m.Header.Del(key) }

// Has reports whether the header field is present.
func (m *Message) Has(key string) bool { return m.Header.Has(key) }

// Values returns every value of a repeated header field.
func (m *Message) Values(key string) []string {
	var out []string
	for f := m.Header.FieldsByKey(key); f.Next(); {
		out = append(out, f.Value())
	}
	return out
}

// Subject returns the Subject header.
func (m *Message) Subject() string { return m.Header.Get("Subject") }

// MessageID returns the Message-ID with angle brackets stripped.
func (m *Message) MessageID() string {
	return strings.Trim(strings.TrimSpace(m.Header.Get("Message-Id")), "<>")
}

// FromAddress returns the address of the first From mailbox, folded to
// lower case, or "" when the header is missing or unparsable.
func (m *Message) FromAddress() string {
	addrs := m.Addresses("From")
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// Addresses parses an address header and returns the bare addresses folded
// to lower case. Unparsable headers yield nil rather than an error; bounce
// mail routinely carries garbage address headers.
func (m *Message) Addresses(key string) []string {
	mh := mail.Header{Header: message.Header{Header: m.Header}}
	list, err := mh.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

// Root returns the MIME part tree, building it on first use. A message
// whose MIME structure cannot be parsed at all still yields a single leaf
// part holding the raw body, so line-oriented bounce parsers always have
// text to work with.
func (m *Message) Root() *Part {
	if m.root != nil {
		return m.root
	}
	e, err := message.Read(bytes.NewReader(m.Bytes()))
	if err != nil && !message.IsUnknownCharset(err) || e == nil {
		m.root = &Part{MediaType: "text/plain", Body: m.body}
		return m.root
	}
	m.root = buildPart(e, 0)
	return m.root
}

// TextParts returns every text leaf of the MIME tree in depth-first order.
// Parts with no declared content type count as text.
func (m *Message) TextParts() []*Part {
	var out []*Part
	var walk func(p *Part)
	walk = func(p *Part) {
		if len(p.Parts) == 0 {
			if p.MediaType == "" || strings.HasPrefix(p.MediaType, "text/") {
				out = append(out, p)
			}
			return
		}
		for _, sub := range p.Parts {
			walk(sub)
		}
	}
	walk(m.Root())
	return out
}

// FirstTextBody returns the body of the first text part, or "".
func (m *Message) FirstTextBody() string {
	parts := m.TextParts()
	if len(parts) == 0 {
		return ""
	}
	return string(parts[0].Body)
}

// PartsByType returns all parts whose media type matches exactly, in
// depth-first order.
func (m *Message) PartsByType(mediaType string) []*Part {
	var out []*Part
	var walk func(p *Part)
	walk = func(p *Part) {
		if p.MediaType == mediaType {
			out = append(out, p)
		}
		for _, sub := range p.Parts {
			walk(sub)
		}
	}
	walk(m.Root())
	return out
}

const maxPartDepth = 10

func buildPart(e *message.Entity, depth int) *Part {
	mediaType, params, err := e.Header.ContentType()
	if err != nil {
		mediaType, params = "text/plain", nil
	}
	p := &Part{
		MediaType: strings.ToLower(mediaType),
		Params:    params,
		Header:    e.Header,
	}
	if depth >= maxPartDepth {
		return p
	}
	if mr := e.MultipartReader(); mr != nil {
		for {
			sub, err := mr.NextPart()
			if err != nil {
				break
			}
			p.Parts = append(p.Parts, buildPart(sub, depth+1))
		}
		return p
	}
	if p.MediaType == "message/rfc822" {
		sub, err := message.Read(e.Body)
		if err == nil || message.IsUnknownCharset(err) {
			p.Parts = append(p.Parts, buildPart(sub, depth+1))
			return p
		}
	}
	body, err := io.ReadAll(e.Body)
	if err != nil {
		return p
	}
	p.Body = decodeText(p.MediaType, params, body)
	return p
}

// decodeText converts a text body to UTF-8 using its declared charset,
// falling back to Latin-1 for unknown or broken declarations. Binary parts
// pass through unchanged.
func decodeText(mediaType string, params map[string]string, body []byte) []byte {
	if mediaType != "" && !strings.HasPrefix(mediaType, "text/") {
		return body
	}
	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "us-ascii" {
		return body
	}
	r, err := charset.Reader(cs, bytes.NewReader(body))
	if err != nil {
		r = charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(body))
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

// Compose builds a simple single-part message, used for reject notices and
// other system-generated mail.
func Compose(from, to, subject, body string) []byte {
	var hdr textproto.Header
	hdr.Set("From", from)
	hdr.Set("To", to)
	hdr.Set("Subject", subject)
	hdr.Set("MIME-Version", "1.0")
	hdr.Set("Content-Type", `text/plain; charset="utf-8"`)

	var buf bytes.Buffer
	textproto.WriteHeader(&buf, hdr) //nolint:errcheck // bytes.Buffer cannot fail
	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
