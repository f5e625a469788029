package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/queue"
)

// calcRecips loads the delivery roster into the recips metadata key. A
// requeued item arrives with recips already present, typically narrowed to
// the recipients whose delivery previously temp-failed; the stage must not
// clobber that, so it only loads when the key is absent.
type calcRecips struct {
	members membership.Store
}

func (s *calcRecips) Name() string { return "calc-recips" }

func (s *calcRecips) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	if _, present := meta[queue.MetaRecips]; present {
		meta[queue.MetaRecips] = stripOperational(meta.GetStringList(queue.MetaRecips), lst)
		return Continue()
	}

	members, err := s.members.Members(ctx, lst.Name)
	if err != nil {
		return Retry("failed to load membership roster: " + err.Error())
	}
	seen := make(map[string]bool)
	recips := make([]string, 0, len(members))
	for _, m := range members {
		if !m.DeliveryEnabled {
			continue
		}
		addr := strings.ToLower(m.Address)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		recips = append(recips, addr)
	}
	meta[queue.MetaRecips] = stripOperational(recips, lst)
	return Continue()
}

// stripOperational removes the list's own addresses from a recipient set.
// A list mailing itself is how loops begin.
func stripOperational(recips []string, lst *list.List) []string {
	ops := make(map[string]bool)
	for _, a := range lst.OperationalAddresses() {
		ops[a] = true
	}
	out := recips[:0]
	for _, r := range recips {
		if !ops[strings.ToLower(r)] {
			out = append(out, r)
		}
	}
	return out
}

// avoidDuplicates drops recipients who are explicitly addressed in To or
// Cc and have asked not to receive a second copy through the list. It does
// not deduplicate the recipient list itself, and recipients without the
// preference pass through untouched.
type avoidDuplicates struct {
	members membership.Store
}

func (s *avoidDuplicates) Name() string { return "avoid-duplicates" }

func (s *avoidDuplicates) Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	recips := meta.GetStringList(queue.MetaRecips)
	if len(recips) == 0 {
		return Continue()
	}

	explicit := make(map[string]bool)
	for _, key := range []string{"To", "Cc"} {
		for _, a := range msg.Addresses(key) {
			explicit[a] = true
		}
	}
	if len(explicit) == 0 {
		return Continue()
	}

	kept := recips[:0]
	for _, r := range recips {
		addr := strings.ToLower(r)
		if explicit[addr] {
			m, err := s.members.GetMember(ctx, lst.Name, addr)
			if err != nil && !errors.Is(err, membership.ErrNotFound) {
				return Retry("membership lookup failed: " + err.Error())
			}
			if err == nil && m.AvoidDuplicates {
				continue
			}
		}
		kept = append(kept, r)
	}
	meta[queue.MetaRecips] = kept
	return Continue()
}
