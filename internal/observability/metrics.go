// Package observability carries the core's event/metric/tracing hooks: a
// Prometheus registry of counters/gauges/histograms, structured JSON event
// emission over log/slog, OpenTelemetry spans around per-node and per-session
// work, and a small rolling health scorer for the speculative coordinator's
// acceptance rate. The core never serves a /metrics route itself — wiring the
// registry to an HTTP handler is left to the embedder — it only exposes the
// gauges and handler for one to be mounted.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks currently active sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelinecore_sessions_active",
			Help: "Number of sessions currently in the Active state",
		},
	)

	// SessionsTotal counts sessions by their terminal close reason.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_sessions_total",
			Help: "Total number of sessions closed, by close reason",
		},
		[]string{"reason"},
	)

	// SessionDuration tracks session lifetime from realize to Close.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_session_duration_seconds",
			Help:    "Session duration in seconds, from realize to Close",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"reason"},
	)

	// ConnectionsActive tracks currently open transport connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelinecore_connections_active",
			Help: "Number of transport connections currently open",
		},
	)

	// NodeExecutionsTotal counts per-node Process invocations by outcome.
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_node_executions_total",
			Help: "Total number of node Process invocations, by node type and outcome",
		},
		[]string{"node_type", "outcome"},
	)

	// NodeLatencyMicroseconds histograms per-node Process call latency at
	// microsecond resolution, per the documented requirement — the default
	// second-scale Prometheus buckets are too coarse for the sub-millisecond
	// audio-frame processing this core drives.
	NodeLatencyMicroseconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_node_latency_microseconds",
			Help:    "Node Process call latency in microseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000, 500000},
		},
		[]string{"node_type"},
	)

	// EdgeQueueDepth gauges the current buffered envelope count on one edge.
	EdgeQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipelinecore_edge_queue_depth",
			Help: "Number of envelopes currently buffered on an edge",
		},
		[]string{"session_id", "from", "to"},
	)

	// SpeculationAcceptanceRate gauges one session's speculative acceptance
	// rate over the coordinator's trailing health window (accepted / resolved
	// segments within that window).
	SpeculationAcceptanceRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipelinecore_speculation_acceptance_rate",
			Help: "Fraction of resolved speculative segments accepted as real speech",
		},
		[]string{"session_id"},
	)

	// SpeculationRejectionsTotal counts speculative-segment cancellations by
	// reason.
	SpeculationRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_speculation_rejections_total",
			Help: "Total number of speculative segments cancelled, by reason",
		},
		[]string{"reason"},
	)

	// AdmissionRejectionsTotal counts admission-control rejections by cause
	// (queue full, load shedding, draining).
	AdmissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_admission_rejections_total",
			Help: "Total number of admission rejections, by cause",
		},
		[]string{"cause"},
	)
)

// Handler returns the Prometheus scrape handler; the embedder mounts it on
// whatever route it wants (the core does not own an HTTP route itself).
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionClose updates the session gauges/histograms/counters for one
// session ending with reason after running for duration.
func RecordSessionClose(reason string, duration time.Duration) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(reason).Inc()
	SessionDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordSessionStart marks one more session entering the Active state.
func RecordSessionStart() {
	SessionsActive.Inc()
}

// RecordNodeExecution records one Process call's outcome and latency.
func RecordNodeExecution(nodeType string, latency time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	NodeExecutionsTotal.WithLabelValues(nodeType, outcome).Inc()
	NodeLatencyMicroseconds.WithLabelValues(nodeType).Observe(float64(latency.Microseconds()))
}

// SetEdgeQueueDepth records the current buffered depth of one edge.
func SetEdgeQueueDepth(sessionID, from, to string, depth int) {
	EdgeQueueDepth.WithLabelValues(sessionID, from, to).Set(float64(depth))
}

// DeleteSessionEdgeMetrics removes every edge-queue-depth series for a
// closed session so the gauge vector doesn't accumulate stale label sets
// across a long-running process's session churn.
func DeleteSessionEdgeMetrics(sessionID string, edges [][2]string) {
	for _, e := range edges {
		EdgeQueueDepth.DeleteLabelValues(sessionID, e[0], e[1])
	}
	SpeculationAcceptanceRate.DeleteLabelValues(sessionID)
}

// SetSpeculationAcceptanceRate records one session's current speculative
// acceptance rate.
func SetSpeculationAcceptanceRate(sessionID string, rate float64) {
	SpeculationAcceptanceRate.WithLabelValues(sessionID).Set(rate)
}

// RecordSpeculationRejection counts one speculative-segment cancellation.
func RecordSpeculationRejection(reason string) {
	SpeculationRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAdmissionRejection counts one admission-control rejection.
func RecordAdmissionRejection(cause string) {
	AdmissionRejectionsTotal.WithLabelValues(cause).Inc()
}
