package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/ruhusa/internal/audit"
)

// Recorder observes tool executions (metrics).
type Recorder interface {
	RecordToolExecution(tool string, success bool, d time.Duration)
}

// Dispatcher resolves, validates, executes and audits tool calls.
type Dispatcher struct {
	registry *Registry
	audit    audit.Sink
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAudit records side-effecting calls to sink.
func WithAudit(sink audit.Sink) DispatcherOption {
	return func(d *Dispatcher) { d.audit = sink }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithTracer wraps every call in a span.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *Registry, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		registry: registry,
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs name with params on behalf of inv. It returns
// *UnknownToolError, *ParamError or *ToolExecutionError on failure; none of
// them has caused a side effect except a ToolExecutionError, which is audited.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, name string, params map[string]any) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("user_id", inv.UserID),
		))
	defer span.End()

	tool, ok := d.registry.Get(name)
	if !ok {
		err := &UnknownToolError{Name: name, Available: d.registry.Names()}
		span.SetStatus(codes.Error, "unknown tool")
		d.logger.WarnContext(ctx, "unknown tool requested", slog.String("tool", name))
		return nil, err
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := d.registry.Validate(name, params); err != nil {
		span.SetStatus(codes.Error, "invalid parameters")
		d.logger.InfoContext(ctx, "tool parameters rejected",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, execErr := d.execute(ctx, tool, inv, params)
	elapsed := time.Since(start)

	success := execErr == nil && result != nil && result.Success
	if d.recorder != nil {
		d.recorder.RecordToolExecution(name, success, elapsed)
	}

	if tool.SideEffect() {
		d.auditCall(ctx, inv, name, params, result, execErr, elapsed)
	}

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		d.logger.WarnContext(ctx, "tool execution failed",
			slog.String("tool", name),
			slog.String("user_id", inv.UserID),
			slog.Duration("duration", elapsed),
			slog.String("error", execErr.Error()),
		)
		return nil, &ToolExecutionError{Tool: name, Err: execErr}
	}
	if result == nil {
		result = OK("", nil)
	}

	span.SetAttributes(attribute.Bool("success", result.Success))
	d.logger.InfoContext(ctx, "tool executed",
		slog.String("tool", name),
		slog.String("user_id", inv.UserID),
		slog.Bool("success", result.Success),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

// execute runs the tool, converting a panic into an error.
func (d *Dispatcher) execute(ctx context.Context, tool Tool, inv Invocation, params map[string]any) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "tool panic recovered",
				slog.String("tool", tool.Name()),
				slog.String("panic", fmt.Sprint(r)),
			)
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, inv, params)
}

func (d *Dispatcher) auditCall(ctx context.Context, inv Invocation, name string, params map[string]any, result *Result, execErr error, elapsed time.Duration) {
	if d.audit == nil {
		return
	}
	detail := map[string]any{
		"params":      params,
		"duration_ms": elapsed.Milliseconds(),
	}
	if inv.ConversationID != uuid.Nil {
		detail["conversation_id"] = inv.ConversationID.String()
	}
	if inv.CorrelationID != "" {
		detail["correlation_id"] = inv.CorrelationID
	}
	switch {
	case execErr != nil:
		detail["outcome"] = "error"
		detail["error"] = execErr.Error()
	case result != nil && result.Success:
		detail["outcome"] = "success"
	default:
		detail["outcome"] = "rejected"
		if result != nil {
			detail["message"] = result.Message
		}
	}

	rec, err := audit.NewRecord(audit.EntityToolCall, uuid.NewString(), audit.ToolAction(name), inv.Actor(), detail)
	if err == nil {
		err = d.audit.Append(ctx, rec)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "tool audit write failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
	}
}
