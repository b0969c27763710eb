// Package protocol defines the WebSocket chat message types exchanged between
// clients and the gateway. All messages are JSON-encoded and wrapped in an
// Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Client → Gateway
	MsgChat MessageType = "chat.message"
	MsgPong MessageType = "gateway.pong"

	// Gateway → Client
	MsgReady      MessageType = "gateway.ready"
	MsgTextDelta  MessageType = "chat.text_delta"
	MsgToolCall   MessageType = "chat.tool_call"
	MsgToolResult MessageType = "chat.tool_result"
	MsgFinal      MessageType = "chat.final"
	MsgPing       MessageType = "gateway.ping"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level message wrapper for all WebSocket communication.
type Envelope struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"` // Message ID for correlation and deduplication.
	// ReplyTo is the ID of the chat message this envelope answers.
	ReplyTo   string          `json:"reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Reply creates an envelope answering the message with id replyTo.
func Reply(replyTo string, msgType MessageType, payload any) (*Envelope, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	env.ReplyTo = replyTo
	return env, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(e.Payload, target)
}

// --- Client → Gateway payloads ---

// ChatPayload is sent with MsgChat.
type ChatPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = the connection's conversation.
	Confirmed      bool   `json:"confirmed,omitempty"`
}

// --- Gateway → Client payloads ---

// ReadyPayload is sent with MsgReady after the connection is accepted.
type ReadyPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// TextDeltaPayload is sent with MsgTextDelta. Deltas are a draft; the final
// message carries the authoritative answer.
type TextDeltaPayload struct {
	Text string `json:"text"`
}

// ToolPayload is sent with MsgToolCall and MsgToolResult.
type ToolPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
}

// FinalPayload is sent with MsgFinal when a turn completes.
type FinalPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CorrelationID  string `json:"correlation_id"`
	Iterations     int    `json:"iterations"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	LimitReached   bool   `json:"limit_reached,omitempty"`
}

// ErrorPayload is sent with MsgError.
type ErrorPayload struct {
	Code    string `json:"code"` // "bad_request", "rate_limited", "forbidden", "internal".
	Message string `json:"message"`
}
