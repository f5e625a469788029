package pipeline

import (
	"log/slog"

	"github.com/busybox42/listflow/internal/cache"
	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/queue"
)

// Deps carries the collaborators the default stage set needs.
type Deps struct {
	Members   membership.Store
	Seen      cache.SeenCache
	Outgoing  *queue.Switchboard
	Archive   *queue.Switchboard
	Deliverer delivery.Deliverer
}

// DefaultRegistry builds the registry with the full stage set wired to the
// given collaborators.
func DefaultRegistry(deps Deps) (*Registry, error) {
	r := NewRegistry()
	stages := []Stage{
		&loopDetect{seen: deps.Seen},
		&spamDetect{},
		&emergency{},
		&moderate{members: deps.Members},
		&cleanse{},
		&cookHeaders{},
		&calcRecips{members: deps.Members},
		&avoidDuplicates{members: deps.Members},
		&toArchive{archive: deps.Archive},
		&toOutgoing{outgoing: deps.Outgoing},
		&deliver{transport: deps.Deliverer, log: slog.Default().With("component", "deliver")},
	}
	for _, s := range stages {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}
