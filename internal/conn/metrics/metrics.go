// Package metrics exposes prometheus collectors for the connectivity core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal tracks probes by outcome
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_probes_total",
			Help: "Total number of reachability probes",
		},
		[]string{"outcome"},
	)

	// ProbeLatency tracks probe round-trip time
	ProbeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uplink_probe_latency_seconds",
			Help:    "Probe round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConnectionOnline is 1 while the link is up
	ConnectionOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_connection_online",
			Help: "1 when the remote service is reachable",
		},
	)

	// QualityScore is the current 0-100 link quality score
	QualityScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_quality_score",
			Help: "Connection quality score (0-100)",
		},
	)

	// ReconnectAttemptsTotal tracks reconnection attempts by result
	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_reconnect_attempts_total",
			Help: "Total number of reconnection attempts",
		},
		[]string{"result"},
	)

	// FallbackActivations counts circuit-breaker escalations
	FallbackActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uplink_fallback_activations_total",
			Help: "Times the engine escalated to a fallback strategy",
		},
	)

	// QueueDepth tracks queued actions awaiting replay
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_queue_depth",
			Help: "Number of actions in the offline queue",
		},
	)

	// ReplayActionsTotal tracks replayed actions by outcome
	ReplayActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_replay_actions_total",
			Help: "Total actions processed by replay",
		},
		[]string{"outcome"},
	)
)
