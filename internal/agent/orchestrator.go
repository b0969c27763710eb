package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/llm"
	"github.com/jkaninda/ruhusa/internal/tools"
)

// Turn outcomes reported to the Recorder.
const (
	OutcomeAnswered  = "answered"
	OutcomeLimit     = "iteration_limit"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Recorder observes orchestration turns (metrics).
type Recorder interface {
	RecordTurn(outcome string, iterations int, d time.Duration)
	RecordParseError()
}

// IdentityResolver looks up the employee record behind an authenticated user.
type IdentityResolver interface {
	Get(ctx context.Context, id string) (*domain.Employee, error)
}

// ToolDispatcher runs tool calls. *tools.Dispatcher implements it.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, inv tools.Invocation, name string, params map[string]any) (*tools.Result, error)
	Registry() *tools.Registry
}

// Orchestrator is the default Agent implementation.
// It drives the turn state machine, performing the model calls and tool
// dispatches its effects ask for.
// Conversation history is loaded from a ConversationStore (if configured) or
// kept ephemeral (empty each call).
type Orchestrator struct {
	provider   llm.StreamingProvider
	dispatcher ToolDispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	recorder   Recorder          // nil = metrics disabled
	identities IdentityResolver  // nil = prompt carries the user ID only
	convStore  ConversationStore // nil = ephemeral
	now        func() time.Time

	maxIterations   int
	historyWindow   int
	maxMessageBytes int
	maxTokens       int
	tokenBudget     int
	temperature     float64
	strictActions   bool
	turnTimeout     time.Duration // 0 = bounded by the caller's context only
}

// NewOrchestrator creates an agent backed by the given LLM provider and tool dispatcher.
func NewOrchestrator(provider llm.Provider, dispatcher ToolDispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		provider:        llm.AsStreaming(provider),
		dispatcher:      dispatcher,
		logger:          logger,
		tracer:          noop.NewTracerProvider().Tracer(""),
		now:             time.Now,
		maxIterations:   DefaultMaxIterations,
		historyWindow:   DefaultHistoryWindow,
		maxMessageBytes: DefaultMaxMessageBytes,
		maxTokens:       DefaultMaxTokens,
		tokenBudget:     DefaultInputTokenBudget,
		strictActions:   true,
	}
}

// WithConversationStore attaches persistent conversation memory.
func (o *Orchestrator) WithConversationStore(store ConversationStore, historyWindow int) *Orchestrator {
	o.convStore = store
	if historyWindow > 0 {
		o.historyWindow = historyWindow
	}
	return o
}

// WithIdentity resolves employee records for the system prompt.
func (o *Orchestrator) WithIdentity(r IdentityResolver) *Orchestrator {
	o.identities = r
	return o
}

// WithMaxIterations sets the ceiling on model calls per turn.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	if n > 0 {
		o.maxIterations = n
	}
	return o
}

// WithMaxMessageBytes caps the size of one user message.
func (o *Orchestrator) WithMaxMessageBytes(n int) *Orchestrator {
	if n > 0 {
		o.maxMessageBytes = n
	}
	return o
}

// WithGeneration sets the per-call token cap and sampling temperature.
func (o *Orchestrator) WithGeneration(maxTokens int, temperature float64) *Orchestrator {
	if maxTokens > 0 {
		o.maxTokens = maxTokens
	}
	o.temperature = temperature
	return o
}

// WithTokenBudget bounds the estimated input tokens of one model call by
// dropping the oldest history first.
func (o *Orchestrator) WithTokenBudget(n int) *Orchestrator {
	if n > 0 {
		o.tokenBudget = n
	}
	return o
}

// WithStrictActions controls replies without an action block. Strict (the
// default) reports them to the model as parse errors; lenient takes the
// prose as the final answer.
func (o *Orchestrator) WithStrictActions(strict bool) *Orchestrator {
	o.strictActions = strict
	return o
}

// WithTurnTimeout bounds the wall-clock time of one turn.
func (o *Orchestrator) WithTurnTimeout(d time.Duration) *Orchestrator {
	o.turnTimeout = d
	return o
}

// WithRecorder attaches a metrics recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithTracer wraps every turn in a span.
func (o *Orchestrator) WithTracer(t trace.Tracer) *Orchestrator {
	if t != nil {
		o.tracer = t
	}
	return o
}

// WithClock overrides the time source used for "today" in the prompt.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// Process runs one turn to completion.
func (o *Orchestrator) Process(ctx context.Context, input *Input) (*Response, error) {
	return o.ProcessStream(ctx, input, nil)
}

// turn is the mutable bookkeeping of one ProcessStream call.
type turn struct {
	input      *Input
	convID     uuid.UUID
	persistent bool
	inv        tools.Invocation
	system     string
	history    []llm.Message // Model context: window plus this turn's messages.
	newStart   int           // Index in history of this turn's first message.
	cache      *toolCache
	resp       *Response
	sink       EventSink
	// awaitingConfirmation is set while the latest tool result asks the
	// user to confirm an override.
	awaitingConfirmation bool
}

// ProcessStream runs one turn, emitting progress to sink as it happens.
// Text deltas are a draft; the final event carries the authoritative answer.
func (o *Orchestrator) ProcessStream(ctx context.Context, input *Input, sink EventSink) (resp *Response, err error) {
	if input == nil || input.UserID == "" {
		return nil, errors.New("agent: input has no authenticated user")
	}
	if input.Message == "" {
		return nil, errors.New("agent: empty message")
	}
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "agent.process",
		trace.WithAttributes(
			attribute.String("user_id", input.UserID),
			attribute.String("correlation_id", input.CorrelationID),
		))
	defer span.End()

	start := time.Now()
	t := &turn{input: input, cache: newToolCache(), resp: &Response{}, sink: sink}
	defer func() {
		outcome := OutcomeAnswered
		switch {
		case err != nil && ctx.Err() != nil:
			outcome = OutcomeCancelled
		case err != nil:
			outcome = OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			sink.emit(Event{Type: EventError, Error: err.Error()})
		case resp.LimitReached:
			outcome = OutcomeLimit
		}
		if o.recorder != nil {
			o.recorder.RecordTurn(outcome, t.resp.Iterations, time.Since(start))
		}
		span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("iterations", t.resp.Iterations),
		)
	}()

	o.logger.DebugContext(ctx, "processing input",
		slog.String("user_id", input.UserID),
		slog.String("correlation_id", input.CorrelationID),
		slog.String("conversation_id", input.ConversationID),
	)

	if err := o.loadConversation(ctx, t); err != nil {
		return nil, err
	}
	t.resp.ConversationID = t.convID.String()

	t.inv = tools.Invocation{
		UserID:         input.UserID,
		ActorKind:      domain.ActorAgent,
		ConversationID: t.convID,
		CorrelationID:  input.CorrelationID,
		Confirmed:      confirmationGiven(input, t.history),
	}
	t.system = buildSystemPrompt(o.identity(ctx, input.UserID), o.now().UTC(), o.dispatcher.Registry().Describe())
	t.history = trimHistoryToTokenBudget(t.history, estimateTokens(t.system)+estimateTokens(input.Message), o.tokenBudget)

	t.newStart = len(t.history)
	t.history = append(t.history, llm.UserMessage(o.truncateContent(input.Message)))

	state, effects := Start(o.maxIterations, o.strictActions)
	for len(effects) > 0 {
		eff := effects[0]
		effects = effects[1:]

		var next []Effect
		switch eff.Kind {
		case EffectCallModel:
			if err := ctx.Err(); err != nil {
				o.persist(ctx, t)
				return nil, err
			}
			out, err := o.callModel(ctx, t, state.Iteration+1)
			if err != nil {
				o.persist(ctx, t)
				return nil, err
			}
			t.resp.Iterations = state.Iteration + 1
			t.history = append(t.history, llm.Message{Role: llm.RoleAssistant, Content: out, Trace: true})
			state, next = Transition(state, out)

		case EffectDispatch:
			if err := ctx.Err(); err != nil {
				o.persist(ctx, t)
				return nil, err
			}
			obs, err := o.dispatch(ctx, t, eff.Action)
			if err != nil {
				o.persist(ctx, t)
				return nil, err
			}
			state, next = Observe(state, obs)

		case EffectReportParseError:
			if o.recorder != nil {
				o.recorder.RecordParseError()
			}
			o.logger.WarnContext(ctx, "model output could not be parsed",
				slog.String("correlation_id", input.CorrelationID),
				slog.Int("iteration", state.Iteration),
				slog.String("error", eff.Err.Error()),
			)
			state, next = Observe(state, renderParseError(eff.Err))

		case EffectAppendObservation:
			t.history = append(t.history, llm.Message{Role: llm.RoleUser, Content: eff.Text, Trace: true})

		case EffectFinish:
			t.resp.Message = eff.Text
		}
		effects = append(effects, next...)
	}

	if state.Phase != PhaseDone {
		o.persist(ctx, t)
		return nil, fmt.Errorf("agent: turn stopped in phase %s", state.Phase)
	}

	t.resp.LimitReached = state.LimitReached
	if state.LimitReached {
		limitErr := &IterationLimitExceeded{Limit: state.MaxIterations}
		o.logger.WarnContext(ctx, "max iterations reached",
			slog.Int("max_iterations", state.MaxIterations),
			slog.String("correlation_id", input.CorrelationID),
			slog.String("error", limitErr.Error()),
		)
		span.AddEvent(limitErr.Error())
	}

	t.history = append(t.history, llm.Message{
		Role:               llm.RoleAssistant,
		Content:            t.resp.Message,
		AwaitsConfirmation: t.awaitingConfirmation && !state.LimitReached,
	})
	o.persist(ctx, t)

	sink.emit(Event{Type: EventFinal, Text: t.resp.Message, Response: t.resp, Iteration: t.resp.Iterations})
	return t.resp, nil
}

// loadConversation resolves the conversation and its recent history. Storage
// failures fall back to an ephemeral turn; access to another user's
// conversation does not.
func (o *Orchestrator) loadConversation(ctx context.Context, t *turn) error {
	convID, err := uuid.Parse(t.input.ConversationID)
	if err != nil {
		convID = uuid.New()
	}
	t.convID = convID
	if o.convStore == nil {
		return nil
	}

	id, err := o.convStore.GetOrCreateConversation(ctx, t.input.UserID, convID)
	if errors.Is(err, domain.ErrForbidden) {
		return err
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load conversation, falling back to ephemeral",
			slog.String("error", err.Error()),
		)
		return nil
	}
	history, err := o.convStore.LoadHistory(ctx, id, o.historyWindow)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load history, falling back to ephemeral",
			slog.String("error", err.Error()),
		)
		return nil
	}

	// The model expects the window to open with a user turn.
	for len(history) > 0 && history[0].Role == llm.RoleAssistant {
		history = history[1:]
	}
	t.convID, t.history, t.persistent = id, history, true
	return nil
}

// ForgetConversation deletes a conversation owned by userID. Deleting an
// unknown conversation succeeds; another user's is an AuthorizationError.
func (o *Orchestrator) ForgetConversation(ctx context.Context, userID, conversationID string) error {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return &domain.NotFoundError{Entity: "conversation", ID: conversationID}
	}
	if o.convStore == nil {
		return nil
	}
	if _, err := o.convStore.GetOrCreateConversation(ctx, userID, convID); err != nil {
		return fmt.Errorf("checking conversation owner: %w", err)
	}
	if err := o.convStore.DeleteConversation(ctx, convID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	o.logger.InfoContext(ctx, "conversation forgotten",
		slog.String("user_id", userID),
		slog.String("conversation_id", convID.String()),
	)
	return nil
}

var _ ConversationForgetter = (*Orchestrator)(nil)

func (o *Orchestrator) identity(ctx context.Context, userID string) Identity {
	id := Identity{EmployeeID: userID}
	if o.identities == nil {
		return id
	}
	emp, err := o.identities.Get(ctx, userID)
	if err != nil {
		o.logger.WarnContext(ctx, "employee record unavailable for prompt",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return id
	}
	id.Name, id.Tier, id.Department = emp.Name, emp.Tier, emp.Department
	return id
}

// callModel streams one model output, forwarding prose deltas to the sink.
func (o *Orchestrator) callModel(ctx context.Context, t *turn, iteration int) (string, error) {
	req := &llm.Request{
		SystemPrompt: t.system,
		Messages:     t.history,
		MaxTokens:    o.maxTokens,
		Temperature:  o.temperature,
		Stop:         []string{"Observation:"},
	}

	var onDelta func(string)
	var gate *deltaGate
	if t.sink != nil {
		gate = newDeltaGate(func(s string) {
			t.sink.emit(Event{Type: EventTextDelta, Text: s, Iteration: iteration})
		})
		onDelta = gate.Write
	}

	resp, err := llm.Collect(ctx, o.provider, req, onDelta)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if gate != nil {
		gate.Flush()
	}
	t.resp.TokensUsed += resp.Usage.InputTokens + resp.Usage.OutputTokens
	return resp.Content, nil
}

// observation is what the model sees after a tool call.
type observation struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result *tools.Result  `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// dispatch runs one action and renders its observation. Tool failures become
// observations; only cancellation is returned as an error.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, action *Action) (string, error) {
	call := ToolCall{
		ID:        uuid.NewString(),
		Name:      action.Name,
		Arguments: action.Input,
		State:     CallCalled,
	}
	called := call
	t.sink.emit(Event{Type: EventToolCall, Call: &called, Iteration: t.resp.Iterations})

	o.logger.InfoContext(ctx, "executing tool call",
		slog.String("tool", action.Name),
		slog.Int("iteration", t.resp.Iterations),
		slog.String("correlation_id", t.input.CorrelationID),
	)

	tool, known := o.dispatcher.Registry().Get(action.Name)
	readOnly := known && !tool.SideEffect()

	var (
		result *tools.Result
		err    error
	)
	if cached, ok := t.cache.Get(action.Name, action.Input); readOnly && ok {
		result = cached
	} else {
		result, err = o.dispatcher.Dispatch(ctx, t.inv, action.Name, action.Input)
		if err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		switch {
		case known && tool.SideEffect():
			t.cache.Clear()
		case readOnly && err == nil && result.Success:
			t.cache.Set(action.Name, action.Input, result)
		}
	}

	t.awaitingConfirmation = err == nil && requestsConfirmation(result)

	obs := observation{Tool: action.Name, Args: action.Input}
	if err != nil {
		call.State = CallFailed
		call.Error = err.Error()
		obs.Error = err.Error()
	} else {
		call.State = CallSucceeded
		if !result.Success {
			call.State = CallFailed
		}
		obs.Result = result
		call.Result, _ = json.Marshal(result)
	}
	t.resp.ToolCalls = append(t.resp.ToolCalls, call)
	done := call
	t.sink.emit(Event{Type: EventToolResult, Call: &done, Iteration: t.resp.Iterations})

	return renderObservation(obs), nil
}

func renderObservation(obs observation) string {
	b, err := json.Marshal(obs)
	if err != nil {
		b, _ = json.Marshal(observation{Tool: obs.Tool, Error: "result could not be encoded: " + err.Error()})
	}
	return "Observation: " + tools.TruncateOutput(string(b), tools.MaxOutputBytes)
}

func renderParseError(err error) string {
	b, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"hint":  `Reply with one fenced JSON block: {"thought": "...", "action": "<tool or final_answer>", "action_input": {...}}`,
	})
	return "Observation: " + string(b)
}

// persist saves this turn's messages (non-fatal on error).
func (o *Orchestrator) persist(ctx context.Context, t *turn) {
	if !t.persistent || t.newStart >= len(t.history) {
		return
	}
	// A cancelled request must still be able to save what happened.
	ctx = context.WithoutCancel(ctx)
	if err := o.convStore.AppendMessages(ctx, t.convID, t.history[t.newStart:]); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist conversation messages",
			slog.String("conversation_id", t.convID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// truncateContent enforces the per-message size limit.
func (o *Orchestrator) truncateContent(s string) string {
	if len(s) <= o.maxMessageBytes {
		return s
	}
	return s[:o.maxMessageBytes] + "\n[message truncated]"
}

// Compile-time interface check.
var _ Agent = (*Orchestrator)(nil)
