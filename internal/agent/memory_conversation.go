package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/llm"
)

// InMemoryConversationStore implements ConversationStore without persistence.
// History is lost on restart.
// Used by the CLI and when no database is configured.
type InMemoryConversationStore struct {
	mu      sync.RWMutex
	history map[uuid.UUID][]llm.Message
	owners  map[uuid.UUID]string
}

// NewInMemoryConversationStore creates an ephemeral conversation store.
func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		history: make(map[uuid.UUID][]llm.Message),
		owners:  make(map[uuid.UUID]string),
	}
}

func (s *InMemoryConversationStore) GetOrCreateConversation(
	_ context.Context, userID string, convID uuid.UUID,
) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.owners[convID]; ok {
		if owner != userID {
			return uuid.Nil, &domain.AuthorizationError{ActorID: userID, Entity: "conversation", ID: convID.String()}
		}
		return convID, nil
	}

	s.owners[convID] = userID
	s.history[convID] = nil
	return convID, nil
}

func (s *InMemoryConversationStore) AppendMessages(
	_ context.Context, convID uuid.UUID, msgs []llm.Message,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[convID]; !ok {
		return &domain.NotFoundError{Entity: "conversation", ID: convID.String()}
	}
	s.history[convID] = append(s.history[convID], msgs...)
	return nil
}

func (s *InMemoryConversationStore) LoadHistory(
	_ context.Context, convID uuid.UUID, maxMessages int,
) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hist []llm.Message
	for _, m := range s.history[convID] {
		if !m.Trace {
			hist = append(hist, m)
		}
	}
	if maxMessages > 0 && len(hist) > maxMessages {
		hist = hist[len(hist)-maxMessages:]
	}

	cp := make([]llm.Message, len(hist))
	copy(cp, hist)
	return cp, nil
}

// Transcript returns every stored message, trace turns included.
func (s *InMemoryConversationStore) Transcript(convID uuid.UUID) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]llm.Message, len(s.history[convID]))
	copy(cp, s.history[convID])
	return cp
}

func (s *InMemoryConversationStore) DeleteConversation(
	_ context.Context, convID uuid.UUID,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, convID)
	delete(s.owners, convID)
	return nil
}

// Compile-time interface check.
var _ ConversationStore = (*InMemoryConversationStore)(nil)
