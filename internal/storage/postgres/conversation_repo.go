package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/llm"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// DefaultMaxHistoryMessages caps LoadHistory when no limit is given.
const DefaultMaxHistoryMessages = 20

// Compile-time interface check.
var _ storage.ConversationStore = (*ConversationRepository)(nil)

// ConversationRepository implements storage.ConversationStore.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreateConversation returns an existing conversation or creates a new one.
// If the conversation exists, the userID is verified to prevent cross-user access.
func (r *ConversationRepository) GetOrCreateConversation(ctx context.Context, userID string, convID uuid.UUID) (uuid.UUID, error) {
	var existing ConversationModel
	err := r.db.WithContext(ctx).Where("id = ?", convID).First(&existing).Error

	if err == nil {
		if existing.UserID != userID {
			return uuid.Nil, &domain.AuthorizationError{ActorID: userID, Entity: "conversation", ID: convID.String()}
		}
		r.db.WithContext(ctx).Model(&existing).Update("updated_at", time.Now().UTC())
		return existing.ID, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	model := ConversationModel{
		ID:        convID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			// Created concurrently; re-check ownership.
			return r.GetOrCreateConversation(ctx, userID, convID)
		}
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}

	return model.ID, nil
}

// AppendMessages atomically appends one or more messages to a conversation.
// Sequence numbers are monotonically assigned starting after the current max.
func (r *ConversationRepository) AppendMessages(ctx context.Context, convID uuid.UUID, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&ConversationMessageModel{}).
			Where("conversation_id = ?", convID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		models := make([]ConversationMessageModel, 0, len(msgs))
		for i, msg := range msgs {
			models = append(models, toConversationMessageModel(convID, maxSeq+i+1, msg))
		}

		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}
		return nil
	})
}

// LoadHistory returns the most recent non-trace messages for a conversation,
// ordered oldest-first (ascending seq_num).
func (r *ConversationRepository) LoadHistory(ctx context.Context, convID uuid.UUID, maxMessages int) ([]llm.Message, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxHistoryMessages
	}

	var models []ConversationMessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND trace = ?", convID, false).
		Order("seq_num DESC").
		Limit(maxMessages).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	messages := make([]llm.Message, len(models))
	for i := range models {
		messages[i] = toMessage(&models[i])
	}
	return messages, nil
}

// DeleteConversation removes all messages and the conversation record.
func (r *ConversationRepository) DeleteConversation(ctx context.Context, convID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", convID).Delete(&ConversationMessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation messages: %w", err)
		}
		if err := tx.Where("id = ?", convID).Delete(&ConversationModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
}
