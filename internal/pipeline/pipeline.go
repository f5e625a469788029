// Package pipeline implements the ordered chain of processing stages a list
// message passes through. Stage names are resolved against a static
// registry built at startup; a configured pipeline referencing an unknown
// stage fails then, not at dispatch time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/message"
	"github.com/busybox42/listflow/internal/metrics"
	"github.com/busybox42/listflow/internal/queue"
)

// Stage is one unit of message processing. Stages mutate the message and
// metadata in place and must be idempotent: a requeued item re-runs the
// whole pipeline from the first stage.
type Stage interface {
	Name() string
	Process(ctx context.Context, lst *list.List, msg *message.Message, meta queue.Metadata) Result
}

// FastTrackPipeline is the fixed minimal stage list used for
// system-originated mail carrying the fast-track metadata flag. It never
// calculates recipients, so items on it must carry explicit recips
// metadata. Moderator-released posts use the approved flag instead and run
// the full pipeline.
var FastTrackPipeline = []string{"cook-headers", "to-outgoing"}

// Registry maps stage names to implementations. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	stages map[string]Stage
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
		logger: slog.Default().With("component", "pipeline"),
	}
}

// Register adds a stage. Registering a duplicate name is a programming
// error and fails.
func (r *Registry) Register(s Stage) error {
	name := s.Name()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("stage %q already registered", name)
	}
	r.stages[name] = s
	return nil
}

// Resolve maps stage names to implementations, failing on the first
// unknown name.
func (r *Registry) Resolve(names []string) ([]Stage, error) {
	stages := make([]Stage, len(names))
	for i, name := range names {
		s, ok := r.stages[name]
		if !ok {
			return nil, fmt.Errorf("pipeline references unknown stage %q", name)
		}
		stages[i] = s
	}
	return stages, nil
}

// ResolveFor resolves the stage list for one message: the fast-track list
// when the item is flagged, otherwise the list's configured pipeline for
// the message class.
func (r *Registry) ResolveFor(lst *list.List, class string, meta queue.Metadata) ([]Stage, error) {
	if meta.GetBool(queue.MetaFastTrack) {
		return r.Resolve(FastTrackPipeline)
	}
	return r.Resolve(lst.PipelineFor(class))
}

// Validate resolves every pipeline the list configures, surfacing unknown
// stage names at startup.
func (r *Registry) Validate(lst *list.List) error {
	for class, names := range lst.Pipelines {
		if _, err := r.Resolve(names); err != nil {
			return fmt.Errorf("list %s, class %s: %w", lst.Name, class, err)
		}
	}
	if _, err := r.Resolve(list.DefaultPostingPipeline); err != nil {
		return fmt.Errorf("default posting pipeline: %w", err)
	}
	if _, err := r.Resolve(FastTrackPipeline); err != nil {
		return fmt.Errorf("fast-track pipeline: %w", err)
	}
	return nil
}

// Run executes stages strictly in order and returns the first non-Continue
// result, or Continue when the list is exhausted.
func (r *Registry) Run(ctx context.Context, stages []Stage, lst *list.List, msg *message.Message, meta queue.Metadata) Result {
	for _, s := range stages {
		start := time.Now()
		res := s.Process(ctx, lst, msg, meta)
		metrics.StageDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if res.Code != CodeContinue {
			r.logger.Info("pipeline stopped",
				"list", lst.Name,
				"stage", s.Name(),
				"result", res.Code.String(),
				"reason", res.Reason,
			)
			return res
		}
	}
	return Continue()
}
