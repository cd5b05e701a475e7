package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	WSWriteErrors       *prometheus.CounterVec
	TurnTransitions     *prometheus.CounterVec
	QueryOutcomes       *prometheus.CounterVec
	QueryLatency        prometheus.Histogram
	TranscriptionSubs   prometheus.Gauge
	ProviderErrors      *prometheus.CounterVec
	OutboundQueueEvents *prometheus.CounterVec

	stages *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active glasses sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by operation.",
		}, []string{"op"}),
		TurnTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn controller state transitions.",
		}, []string{"from", "to"}),
		QueryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_outcomes_total",
			Help:      "Finished queries by outcome.",
		}, []string{"outcome"}),
		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_ms",
			Help:      "Dispatch to rendered answer in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 5000, 8000, 15000},
		}),
		TranscriptionSubs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcription_subscriptions",
			Help:      "Live transcription subscriptions held by turn controllers.",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Collaborator errors by provider and code.",
		}, []string{"provider", "code"}),
		OutboundQueueEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_events_total",
			Help:      "Outbound websocket queue results by message type.",
		}, []string{"type", "result"}),
		stages: newLatencyWindow(256),
	}
}

// Transition counts a controller state change.
func (m *Metrics) Transition(from, to string) {
	m.TurnTransitions.WithLabelValues(from, to).Inc()
}

// QueryOutcome counts a finished query and records its latency.
func (m *Metrics) QueryOutcome(outcome string, latency time.Duration) {
	m.QueryOutcomes.WithLabelValues(outcome).Inc()
	m.QueryLatency.Observe(float64(latency.Milliseconds()))
	m.stages.ObserveIndicator("outcome_" + outcome)
}

// Stage feeds the rolling latency window served at /v1/perf/latency.
func (m *Metrics) Stage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) Subscriptions(delta int) {
	m.TranscriptionSubs.Add(float64(delta))
}

func (m *Metrics) ProviderError(provider, code string) {
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.OutboundQueueEvents.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
