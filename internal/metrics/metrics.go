// Package metrics exposes Prometheus instrumentation for the queues,
// runners, pipeline and bounce classifier.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsEnqueued counts items persisted into each queue.
	ItemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listflow_queue_items_enqueued_total",
			Help: "Total items enqueued, by queue",
		},
		[]string{"queue"},
	)

	// Dispositions counts runner outcomes per queue.
	Dispositions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listflow_runner_dispositions_total",
			Help: "Runner dispositions, by queue and disposition",
		},
		[]string{"queue", "disposition"},
	)

	// StageDuration observes pipeline stage execution time.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listflow_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage execution time, by stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// BounceOutcomes counts classifier results.
	BounceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listflow_bounce_classifications_total",
			Help: "Bounce classifier outcomes: matched module, warning stop, or unrecognized",
		},
		[]string{"outcome"},
	)

	// BounceAddresses counts addresses recovered from bounce reports.
	BounceAddresses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listflow_bounce_addresses_total",
			Help: "Total bounced addresses recovered",
		},
	)

	// DeliveryOutcomes counts per-recipient delivery results.
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listflow_delivery_recipients_total",
			Help: "Per-recipient delivery outcomes",
		},
		[]string{"outcome"},
	)

	// QueueDepth reports the pending count per queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listflow_queue_depth",
			Help: "Pending items per queue",
		},
		[]string{"queue"},
	)
)
