package observability

import (
	"time"

	"github.com/jkaninda/ruhusa/internal/agent"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/tools"
)

// Recorder turns domain events from the loop, dispatcher, policy engine and
// lifecycle manager into metrics and anomaly samples. The zero value records
// nothing.
type Recorder struct {
	metrics *MetricsCollector
	anomaly *AnomalyDetector
}

// NewRecorder creates a Recorder. Either argument may be nil.
func NewRecorder(metrics *MetricsCollector, anomaly *AnomalyDetector) *Recorder {
	return &Recorder{metrics: metrics, anomaly: anomaly}
}

// RecordTurn records a completed conversational turn.
func (r *Recorder) RecordTurn(outcome string, iterations int, d time.Duration) {
	if r == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.AgentTurnsTotal.WithLabelValues(outcome).Inc()
		r.metrics.AgentTurnIterations.Observe(float64(iterations))
		r.metrics.AgentTurnDuration.Observe(d.Seconds())
		if outcome == agent.OutcomeLimit {
			r.metrics.AgentIterationLimits.Inc()
		}
	}
	switch outcome {
	case agent.OutcomeError, agent.OutcomeLimit:
		r.anomaly.RecordError(opTurn)
	case agent.OutcomeAnswered:
		r.anomaly.RecordSuccess(opTurn)
	}
}

// RecordParseError records a model output that yielded no action.
func (r *Recorder) RecordParseError() {
	if r == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.AgentParseErrors.Inc()
	}
	r.anomaly.RecordParseError()
}

// RecordToolExecution records one dispatched tool call.
func (r *Recorder) RecordToolExecution(tool string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.ToolExecutionsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
	if success {
		r.anomaly.RecordSuccess("tool_" + tool)
	} else {
		r.anomaly.RecordError("tool_" + tool)
	}
}

// RecordDecision records a policy recommendation.
func (r *Recorder) RecordDecision(kind, recommendation string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.PolicyDecisionsTotal.WithLabelValues(kind, recommendation).Inc()
}

// RecordSubmission records a persisted request.
func (r *Recorder) RecordSubmission(kind, status string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.LifecycleSubmissionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordResolution records a decision or cancellation.
func (r *Recorder) RecordResolution(kind, status string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.LifecycleResolutionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordRateLimited records a request rejected by a gateway limiter.
func (r *Recorder) RecordRateLimited(gateway string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.RateLimitedTotal.WithLabelValues(gateway).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

var (
	_ agent.Recorder     = (*Recorder)(nil)
	_ tools.Recorder     = (*Recorder)(nil)
	_ policy.Recorder    = (*Recorder)(nil)
	_ lifecycle.Recorder = (*Recorder)(nil)
)
