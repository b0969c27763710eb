package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ruhusa"

// MetricsCollector holds all Prometheus metrics for Ruhusa.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Orchestration loop metrics.
	AgentTurnsTotal      *prometheus.CounterVec
	AgentTurnIterations  prometheus.Histogram
	AgentTurnDuration    prometheus.Histogram
	AgentParseErrors     prometheus.Counter
	AgentIterationLimits prometheus.Counter

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Policy and lifecycle metrics.
	PolicyDecisionsTotal      *prometheus.CounterVec
	LifecycleSubmissionsTotal *prometheus.CounterVec
	LifecycleResolutionsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "mode", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "mode"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		AgentTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total conversational turns by outcome.",
		}, []string{"outcome"}),

		AgentTurnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_iterations",
			Help:      "Model calls per conversational turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15},
		}),

		AgentTurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Conversational turn duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		AgentParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "parse_errors_total",
			Help:      "Model outputs that could not be parsed into an action.",
		}),

		AgentIterationLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "iteration_limit_total",
			Help:      "Turns that ended at the iteration ceiling.",
		}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		PolicyDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "decisions_total",
			Help:      "Policy evaluations by request kind and recommendation.",
		}, []string{"kind", "recommendation"}),

		LifecycleSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "submissions_total",
			Help:      "Persisted requests by kind and initial status.",
		}, []string{"kind", "status"}),

		LifecycleResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "resolutions_total",
			Help:      "Manager decisions and cancellations by kind and final status.",
		}, []string{"kind", "status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}, []string{"gateway"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.AgentTurnsTotal,
		m.AgentTurnIterations,
		m.AgentTurnDuration,
		m.AgentParseErrors,
		m.AgentIterationLimits,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.PolicyDecisionsTotal,
		m.LifecycleSubmissionsTotal,
		m.LifecycleResolutionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitedTotal,
		m.ActiveRequests,
	)

	return m
}
