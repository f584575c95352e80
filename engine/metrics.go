package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's prometheus collectors.
type Metrics struct {
	Dispatches        *prometheus.CounterVec
	Events            *prometheus.CounterVec
	Suspensions       *prometheus.CounterVec
	OracleFallbacks   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg. A nil registerer
// uses a private registry that is never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Dispatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_engine_dispatches_total",
			Help: "Sub-task dispatch attempts by agent, mode and outcome.",
		}, []string{"agent", "mode", "outcome"}),

		Events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_engine_events_total",
			Help: "Multiplexed agent events by agent and task state.",
		}, []string{"agent", "state"}),

		Suspensions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_engine_suspensions_total",
			Help: "Sub-tasks that suspended waiting for user input.",
		}, []string{"agent"}),

		OracleFallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_engine_oracle_fallbacks_total",
			Help: "Oracle failures answered with a deterministic fallback.",
		}, []string{"oracle"}),

		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentrelay_engine_execution_duration_seconds",
			Help:    "Wall time of an execution from dispatch to reply.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
	}
}
