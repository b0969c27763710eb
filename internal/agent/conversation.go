package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/llm"
)

// ConversationStore persists conversation history.
type ConversationStore interface {
	// GetOrCreateConversation returns an existing conversation or creates a new one.
	// The userID is verified on existing conversations to prevent cross-user access.
	GetOrCreateConversation(ctx context.Context, userID string, convID uuid.UUID) (uuid.UUID, error)

	// AppendMessages atomically appends one or more messages to a conversation.
	AppendMessages(ctx context.Context, convID uuid.UUID, msgs []llm.Message) error

	// LoadHistory returns the most recent non-trace messages for a
	// conversation, up to maxMessages, ordered oldest-first.
	LoadHistory(ctx context.Context, convID uuid.UUID, maxMessages int) ([]llm.Message, error)

	// DeleteConversation removes all messages and the conversation record.
	DeleteConversation(ctx context.Context, convID uuid.UUID) error
}

// ConversationForgetter is implemented by agents that can erase a
// conversation's stored history on the owner's request.
type ConversationForgetter interface {
	ForgetConversation(ctx context.Context, userID, conversationID string) error
}
