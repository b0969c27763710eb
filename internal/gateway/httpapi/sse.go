package httpapi

import (
	"log/slog"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/agent"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Text           string           `json:"text,omitempty"`      // Delta text or the final answer.
	ToolCall       *agent.ToolCall  `json:"tool_call,omitempty"` // tool_call and tool_result events.
	Iteration      int              `json:"iteration,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	ToolCalls      []agent.ToolCall `json:"tool_calls,omitempty"` // final only.
	LimitReached   bool             `json:"limit_reached,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// handleChatStream handles POST /v1/chat/stream with SSE responses.
// Event names mirror agent.EventType: text_delta, tool_call, tool_result,
// final, error. The final event is authoritative; clients replace any text
// accumulated from deltas with it.
func (g *Gateway) handleChatStream(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	input, err := g.bindChat(c, userID)
	if input == nil {
		return err
	}

	g.logger.InfoContext(c.Context(), "http chat stream",
		slog.String("user_id", userID),
		slog.String("correlation_id", input.CorrelationID),
	)

	sink := func(ev agent.Event) {
		switch ev.Type {
		case agent.EventFinal:
			return // Sent below with the response metadata.
		case agent.EventError:
			// Internal detail stays in the logs.
			return
		}
		c.SSEvent(string(ev.Type), toSSE(ev))
	}

	resp, err := g.agent.ProcessStream(c.Context(), input, sink)
	if err != nil {
		g.logger.ErrorContext(c.Context(), "agent stream failed",
			slog.String("correlation_id", input.CorrelationID),
			slog.String("error", err.Error()),
		)
		_, msg := statusFor(err)
		c.SSEvent(string(agent.EventError), SSEEvent{Error: msg, CorrelationID: input.CorrelationID})
		return nil
	}

	c.SSEvent(string(agent.EventFinal), SSEEvent{
		Text:           resp.Message,
		ConversationID: resp.ConversationID,
		CorrelationID:  input.CorrelationID,
		ToolCalls:      resp.ToolCalls,
		Iteration:      resp.Iterations,
		LimitReached:   resp.LimitReached,
	})
	return nil
}

func toSSE(ev agent.Event) SSEEvent {
	return SSEEvent{Text: ev.Text, ToolCall: ev.Call, Iteration: ev.Iteration, Error: ev.Error}
}
