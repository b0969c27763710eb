package agent

import "fmt"

// Phase is a step of one orchestration turn.
type Phase string

const (
	PhaseThinking  Phase = "thinking"  // waiting for model output
	PhaseToolCall  Phase = "tool_call" // one action is being dispatched
	PhaseObserving Phase = "observing" // a parse failure is being reported back
	PhaseDone      Phase = "done"
)

// State is the loop position of one turn. It is a value: transitions return
// a new State and never touch I/O.
type State struct {
	Phase         Phase
	Iteration     int // Model outputs consumed so far.
	MaxIterations int
	Strict        bool    // Plain prose without an action is a parse error.
	Pending       *Action // The action being dispatched in PhaseToolCall.
	Final         string
	LimitReached  bool
}

// EffectKind names the I/O the driver must perform.
type EffectKind int

const (
	// EffectCallModel asks the model for its next output.
	EffectCallModel EffectKind = iota + 1
	// EffectDispatch runs Effect.Action through the tool dispatcher.
	EffectDispatch
	// EffectReportParseError feeds Effect.Err back to the model.
	EffectReportParseError
	// EffectAppendObservation appends Effect.Text to the transcript as an observation.
	EffectAppendObservation
	// EffectFinish ends the turn with Effect.Text as the answer.
	EffectFinish
)

func (k EffectKind) String() string {
	switch k {
	case EffectCallModel:
		return "call_model"
	case EffectDispatch:
		return "dispatch"
	case EffectReportParseError:
		return "report_parse_error"
	case EffectAppendObservation:
		return "append_observation"
	case EffectFinish:
		return "finish"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one piece of work a transition asks for.
type Effect struct {
	Kind   EffectKind
	Action *Action
	Err    error
	Text   string
}

// Start returns the initial state of a turn and its first effect.
func Start(maxIterations int, strict bool) (State, []Effect) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	s := State{Phase: PhaseThinking, MaxIterations: maxIterations, Strict: strict}
	return s, []Effect{{Kind: EffectCallModel}}
}

// Transition consumes one model output. It is only valid in PhaseThinking;
// in any other phase it returns s unchanged and no effects.
func Transition(s State, modelOutput string) (State, []Effect) {
	if s.Phase != PhaseThinking {
		return s, nil
	}
	s.Iteration++

	action, err := ParseAction(modelOutput)
	if err == nil && s.Strict && action.Encoding == EncodingPlain {
		err = &ParseError{Reason: "reply did not contain an action block", Raw: modelOutput}
	}
	if err == nil && action.Final() && action.Answer == "" {
		err = &ParseError{Reason: "final_answer has no answer text", Raw: modelOutput}
	}
	if err != nil {
		s.Phase = PhaseObserving
		return s, []Effect{{Kind: EffectReportParseError, Err: err}}
	}

	if action.Final() {
		s.Phase = PhaseDone
		s.Final = action.Answer
		return s, []Effect{{Kind: EffectFinish, Text: action.Answer}}
	}

	s.Phase = PhaseToolCall
	s.Pending = action
	return s, []Effect{{Kind: EffectDispatch, Action: action}}
}

// Observe records the rendered outcome of a dispatch or parse failure and
// decides whether the model gets another turn. Once the iteration ceiling is
// reached the turn ends with FallbackMessage.
func Observe(s State, observation string) (State, []Effect) {
	if s.Phase != PhaseToolCall && s.Phase != PhaseObserving {
		return s, nil
	}
	s.Pending = nil
	effects := []Effect{{Kind: EffectAppendObservation, Text: observation}}

	if s.Iteration >= s.MaxIterations {
		s.Phase = PhaseDone
		s.LimitReached = true
		s.Final = FallbackMessage
		return s, append(effects, Effect{Kind: EffectFinish, Text: FallbackMessage})
	}
	s.Phase = PhaseThinking
	return s, append(effects, Effect{Kind: EffectCallModel})
}
