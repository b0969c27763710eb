// Package tools defines the tool interface, the static registry and the
// dispatcher that validates, executes and audits tool calls.
// Tools never read the caller's identity from their parameters: the
// dispatcher hands it to them through the Invocation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// Tool is the interface every HR tool implements.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "submit_pto_request").
	Name() string

	// Description returns a human-readable description for the system prompt.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// The registry compiles it and validates every call against it.
	InputSchema() map[string]any

	// SideEffect reports whether the tool writes state. Such calls are audited.
	SideEffect() bool

	// Execute runs the tool. params have already passed schema validation.
	Execute(ctx context.Context, inv Invocation, params map[string]any) (*Result, error)
}

// Invocation carries the caller context the loop injects into every call.
type Invocation struct {
	UserID         string
	ActorKind      domain.ActorKind
	ConversationID uuid.UUID
	CorrelationID  string
	// Confirmed is the conversation's explicit confirmation signal. The model
	// cannot set it through arguments.
	Confirmed bool
}

// Actor returns the audit identity of the invocation.
func (inv Invocation) Actor() domain.Actor {
	kind := inv.ActorKind
	if kind == "" {
		kind = domain.ActorAgent
	}
	return domain.Actor{ID: inv.UserID, Kind: kind}
}

// Result is the outcome of a tool execution.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"-"`
}

// OK builds a successful result.
func OK(message string, data any) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

// Fail builds an unsuccessful result that is still a normal observation,
// e.g. a policy denial or a required confirmation.
func Fail(message string, data any) *Result {
	return &Result{Success: false, Message: message, Data: data}
}

// MaxOutputBytes caps a rendered observation.
const MaxOutputBytes = 16 << 10

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// DecodeParams converts validated params into a typed struct via JSON.
func DecodeParams(params map[string]any, dst any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}

// Schema helpers keep tool definitions short.

// Object builds an object schema that rejects unknown properties.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String describes a string property.
func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Date describes a YYYY-MM-DD property.
func Date(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc + " (YYYY-MM-DD)", "pattern": `^\d{4}-\d{2}-\d{2}$`}
}

// Enum describes a string property restricted to values.
func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Bool describes a boolean property.
func Bool(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// Number describes a numeric property.
func Number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

// Integer describes an integer property with bounds.
func Integer(desc string, min, max int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "minimum": min, "maximum": max}
}
