// Package llm defines the provider-agnostic interface for LLM interactions.
// The orchestration loop speaks a text protocol, so providers only exchange
// plain text turns; tool definitions never leave the system prompt.
package llm

import (
	"context"
	"fmt"
)

// APIError is a non-200 answer from a provider's HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether another provider might succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Provider is the abstraction over any LLM backend (Anthropic, OpenAI, Ollama).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	Stop         []string // Optional stop sequences.
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
	// Trace marks loop-internal turns (action blocks and observations).
	// They are persisted for review but excluded from history windows.
	Trace bool
	// AwaitsConfirmation marks an assistant answer given after a tool
	// reported that the request needs the user's explicit confirmation.
	AwaitsConfirmation bool
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserMessage creates a user turn.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage creates an assistant turn.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Response is what the LLM returns.
type Response struct {
	Content    string
	Model      string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens", "stop_sequence"
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
