// Package agent runs the bounded Thought→Action→Observation loop that turns a
// user's message into tool calls and a final answer.
package agent

import (
	"context"
	"encoding/json"
)

// Agent processes user messages through the model and the tool catalog.
type Agent interface {
	// Process runs one turn to completion.
	Process(ctx context.Context, input *Input) (*Response, error)

	// ProcessStream runs one turn, emitting progress to sink as it happens.
	ProcessStream(ctx context.Context, input *Input, sink EventSink) (*Response, error)
}

// Input represents a user message entering the agent. UserID comes from the
// authenticated transport and is the only identity tools ever see.
type Input struct {
	UserID         string
	Message        string
	CorrelationID  string
	ConversationID string
	// Confirmed is an explicit confirmation from the client (e.g. a button).
	Confirmed bool
}

const (
	// DefaultMaxIterations bounds the model calls in one turn.
	DefaultMaxIterations = 15
	// DefaultHistoryWindow is the number of prior messages given to the model.
	DefaultHistoryWindow = 10
	// DefaultMaxMessageBytes caps a single user message.
	DefaultMaxMessageBytes = 32768
	// DefaultMaxTokens caps one model response.
	DefaultMaxTokens = 1024
)

// FallbackMessage is returned when a turn reaches the iteration ceiling.
const FallbackMessage = "I'm sorry, I wasn't able to finish that request. " +
	"Could you rephrase it or break it into smaller steps?"

// Response is the agent's output for one turn.
type Response struct {
	Message        string
	ConversationID string
	ToolCalls      []ToolCall
	Iterations     int
	TokensUsed     int
	// LimitReached is set when the turn ended at the iteration ceiling.
	LimitReached bool
}

// CallState is the lifecycle of one tool invocation within a turn.
type CallState string

const (
	CallCalled    CallState = "called"
	CallSucceeded CallState = "succeeded"
	CallFailed    CallState = "failed"
)

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments"`
	State     CallState       `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
