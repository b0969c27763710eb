package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/agent"
)

// ChatRequest is the JSON body for POST /v1/chat and /v1/chat/stream.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = new conversation.
	// Confirmed marks an explicit confirmation (e.g. a "submit anyway" button).
	Confirmed bool `json:"confirmed,omitempty"`
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Message        string           `json:"message"`
	CorrelationID  string           `json:"correlation_id"`
	ConversationID string           `json:"conversation_id"`
	ToolCalls      []agent.ToolCall `json:"tool_calls,omitempty"`
	Iterations     int              `json:"iterations"`
	TokensUsed     int              `json:"tokens_used,omitempty"`
	LimitReached   bool             `json:"limit_reached,omitempty"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}

	input, err := g.bindChat(c, userID)
	if input == nil {
		return err
	}

	g.logger.InfoContext(c.Context(), "http chat",
		slog.String("user_id", userID),
		slog.String("correlation_id", input.CorrelationID),
		slog.String("conversation_id", input.ConversationID),
	)

	resp, err := g.agent.Process(c.Context(), input)
	if err != nil {
		g.logger.ErrorContext(c.Context(), "agent processing failed",
			slog.String("correlation_id", input.CorrelationID),
			slog.String("error", err.Error()),
		)
		return abortWith(c, err)
	}

	return c.OK(ChatResponse{
		Message:        resp.Message,
		CorrelationID:  input.CorrelationID,
		ConversationID: resp.ConversationID,
		ToolCalls:      resp.ToolCalls,
		Iterations:     resp.Iterations,
		TokensUsed:     resp.TokensUsed,
		LimitReached:   resp.LimitReached,
	})
}

// bindChat parses and validates a chat body. When the input is nil the error
// response has been written and the returned error is the abort result.
func (g *Gateway) bindChat(c *okapi.Context, userID string) (*agent.Input, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return nil, abortBind(c, err)
	}
	input, msg := chatInput(userID, &req)
	if input == nil {
		return nil, c.AbortBadRequest(msg)
	}
	return input, nil
}

// chatInput validates req and builds the agent input. On failure the input is
// nil and msg explains why.
func chatInput(userID string, req *ChatRequest) (input *agent.Input, msg string) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, "message is required"
	}
	return &agent.Input{
		UserID:         userID,
		Message:        req.Message,
		CorrelationID:  newCorrelationID(),
		ConversationID: req.ConversationID,
		Confirmed:      req.Confirmed,
	}, ""
}

func abortBind(c *okapi.Context, err error) error {
	if code, msg := statusFor(err); code == http.StatusRequestEntityTooLarge {
		return c.JSON(code, ErrorBody{Error: msg})
	}
	return c.AbortBadRequest("invalid request body", err)
}

func (g *Gateway) handleForgetConversation(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	forgetter := g.agent.(agent.ConversationForgetter)
	if err := forgetter.ForgetConversation(c.Context(), userID, c.Param("id")); err != nil {
		return abortWith(c, err)
	}
	g.logger.InfoContext(c.Context(), "conversation deleted",
		slog.String("conversation_id", c.Param("id")),
		slog.String("deleted_by", userID),
	)
	return c.OK(okapi.M{"status": "deleted"})
}
