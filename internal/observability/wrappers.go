package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ruhusa/internal/llm"
)

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
// It always streams: non-streaming backends are buffered through llm.AsStreaming.
type InstrumentedProvider struct {
	inner   llm.StreamingProvider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   llm.AsStreaming(inner),
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	ctx, end := p.startSpan(ctx, "llm.send_message")

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)

	var usage *llm.Usage
	if resp != nil {
		usage = &resp.Usage
	}
	p.record("send", time.Since(start), usage, err)
	end(err)
	return resp, err
}

// StreamMessage forwards every event from the wrapped provider and records
// the request once the stream ends.
func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	ctx, end := p.startSpan(ctx, "llm.stream_message")
	defer close(events)

	start := time.Now()
	inner := make(chan llm.StreamEvent, 16)
	errc := make(chan error, 1)
	go func() { errc <- p.inner.StreamMessage(ctx, req, inner) }()

	var (
		usage     *llm.Usage
		streamErr error
	)
	for ev := range inner {
		switch ev.Type {
		case llm.EventDone:
			usage = ev.Usage
		case llm.EventError:
			streamErr = ev.Error
		}
		events <- ev
	}

	provErr := <-errc
	err := provErr
	if err == nil {
		err = streamErr
	}
	p.record("stream", time.Since(start), usage, err)
	end(err)
	return provErr
}

func (p *InstrumentedProvider) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if p.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (p *InstrumentedProvider) record(mode string, d time.Duration, usage *llm.Usage, err error) {
	provider := p.inner.Name()

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, mode, statusLabel(err == nil)).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, mode).Observe(d.Seconds())
		if usage != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
		}
	}

	if err != nil {
		p.anomaly.RecordError("llm_request")
	} else {
		p.anomaly.RecordSuccess("llm_request")
	}
}

var _ llm.StreamingProvider = (*InstrumentedProvider)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
