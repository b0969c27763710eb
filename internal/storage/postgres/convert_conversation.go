package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/llm"
)

// sanitizeRole enforces that only "user" and "assistant" roles are stored.
// Unknown roles default to "user" to prevent injection of system messages.
func sanitizeRole(role llm.Role) string {
	switch role {
	case llm.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

// estimateTokens provides a rough token count using the ~4 chars/token heuristic.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

func toConversationMessageModel(convID uuid.UUID, seqNum int, msg llm.Message) ConversationMessageModel {
	return ConversationMessageModel{
		ID:                 uuid.New(),
		ConversationID:     convID,
		SeqNum:             seqNum,
		Role:               sanitizeRole(msg.Role),
		Content:            msg.Content,
		Trace:              msg.Trace,
		AwaitsConfirmation: msg.AwaitsConfirmation,
		TokenEstimate:      estimateTokens(msg.Content),
		CreatedAt:          time.Now().UTC(),
	}
}

func toMessage(m *ConversationMessageModel) llm.Message {
	return llm.Message{
		Role:               llm.Role(m.Role),
		Content:            m.Content,
		Trace:              m.Trace,
		AwaitsConfirmation: m.AwaitsConfirmation,
	}
}
