// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ProviderStreamDuration tracks agent provider streaming duration.
	ProviderStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_stream_duration_seconds",
			Help:    "Agent provider streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "status"},
	)

	// ProviderFragmentsTotal tracks fragments received from providers.
	ProviderFragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_fragments_total",
			Help: "Total streamed text fragments received from providers",
		},
		[]string{"provider"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// TurnsRecordedTotal tracks conversation turns persisted from the live chat path.
	TurnsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_recorded_total",
			Help: "Conversation turns persisted from the live chat path",
		},
		[]string{"agent_id", "status"},
	)

	// SyncRunsTotal tracks reconciliation runs per bot.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Reconciliation runs per external bot",
		},
		[]string{"bot_id", "status"},
	)

	// SyncTurnsInsertedTotal tracks turns inserted by reconciliation.
	SyncTurnsInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_turns_inserted_total",
			Help: "Conversation turns inserted by reconciliation",
		},
		[]string{"bot_id"},
	)

	// ChatSessionsActive tracks live chat sessions held in memory.
	ChatSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of active in-memory chat sessions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordProviderStream records metrics for a provider streaming response.
func RecordProviderStream(provider, status string, duration float64, fragments int) {
	ProviderStreamDuration.WithLabelValues(provider, status).Observe(duration)
	ProviderFragmentsTotal.WithLabelValues(provider).Add(float64(fragments))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
