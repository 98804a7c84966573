package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the orchestration server.
type Metrics struct {
	registry *prometheus.Registry

	TurnsStarted    prometheus.Counter
	TurnsCompleted  *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	SandboxCreates  prometheus.Counter
	SandboxStops    prometheus.Counter
	StreamErrors    *prometheus.CounterVec
	TitlesGenerated prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepserve_turns_started_total",
			Help: "Conversation turns started.",
		}),
		TurnsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepserve_turns_completed_total",
			Help: "Conversation turns completed, by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepserve_turn_duration_seconds",
			Help:    "Wall time of a complete turn.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepserve_tool_calls_total",
			Help: "Tool invocations observed, by tool name.",
		}, []string{"tool"}),
		SandboxCreates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepserve_sandbox_creates_total",
			Help: "Sandbox containers created.",
		}),
		SandboxStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepserve_sandbox_stops_total",
			Help: "Sandbox containers stopped.",
		}),
		StreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepserve_stream_errors_total",
			Help: "LLM stream errors, by provider.",
		}, []string{"provider"}),
		TitlesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepserve_titles_generated_total",
			Help: "Conversation titles written by the background generator.",
		}),
	}

	registry.MustRegister(
		m.TurnsStarted,
		m.TurnsCompleted,
		m.TurnDuration,
		m.ToolCalls,
		m.SandboxCreates,
		m.SandboxStops,
		m.StreamErrors,
		m.TitlesGenerated,
	)
	return m
}

// Handler exposes the registry for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
