// Package delivery defines the transport collaborator the runners hand
// outgoing mail to. Actual SMTP transport lives outside this core; the
// interface only promises per-recipient outcomes so partial failure can be
// separated from total failure.
package delivery

import (
	"context"
	"log/slog"
	"sync"
)

// Outcome classifies one recipient's delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	TempFail
	PermFail
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TempFail:
		return "temp-fail"
	case PermFail:
		return "perm-fail"
	default:
		return "unknown"
	}
}

// RecipientResult is the outcome of one recipient's attempt.
type RecipientResult struct {
	Recipient string
	Outcome   Outcome
	Message   string
}

// Deliverer is the abstract transport capability. An error return means the
// attempt as a whole could not be made (all recipients implicitly
// temp-fail); otherwise the result slice covers every requested recipient.
type Deliverer interface {
	Deliver(ctx context.Context, msg []byte, envelopeSender string, recipients []string) ([]RecipientResult, error)
}

// Split partitions results into delivered, transient failures and permanent
// failures.
func Split(results []RecipientResult) (delivered, temp, perm []string) {
	for _, r := range results {
		switch r.Outcome {
		case Delivered:
			delivered = append(delivered, r.Recipient)
		case TempFail:
			temp = append(temp, r.Recipient)
		case PermFail:
			perm = append(perm, r.Recipient)
		}
	}
	return delivered, temp, perm
}

// Sink is a Deliverer that records what it is asked to send and answers
// with configurable outcomes. Used in tests and in the CLI's dry-run mode.
type Sink struct {
	mu sync.Mutex

	// Outcomes maps recipient address to a forced outcome; unlisted
	// recipients are Delivered.
	Outcomes map[string]Outcome

	// Err, when set, fails every attempt wholesale.
	Err error

	sent []SentMessage
	log  *slog.Logger
}

// SentMessage is one recorded delivery attempt.
type SentMessage struct {
	Message        []byte
	EnvelopeSender string
	Recipients     []string
}

// NewSink returns an empty sink that delivers everything.
func NewSink() *Sink {
	return &Sink{
		Outcomes: make(map[string]Outcome),
		log:      slog.Default().With("component", "delivery-sink"),
	}
}

func (s *Sink) Deliver(ctx context.Context, msg []byte, envelopeSender string, recipients []string) ([]RecipientResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.sent = append(s.sent, SentMessage{
		Message:        append([]byte(nil), msg...),
		EnvelopeSender: envelopeSender,
		Recipients:     append([]string(nil), recipients...),
	})
	results := make([]RecipientResult, len(recipients))
	for i, rcpt := range recipients {
		results[i] = RecipientResult{Recipient: rcpt, Outcome: s.Outcomes[rcpt]}
	}
	return results, nil
}

// Sent returns a copy of all recorded attempts.
func (s *Sink) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// Reset clears recorded attempts.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
