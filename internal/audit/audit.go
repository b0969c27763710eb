// Package audit records append-only compliance entries for every side effect
// on requests and balances.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// Entity types.
const (
	EntityPTORequest     = "pto_request"
	EntityExpenseRequest = "expense_request"
	EntityReceipt        = "receipt"
	EntityToolCall       = "tool_call"
)

// Actions.
const (
	ActionCreated   = "created"
	ActionApproved  = "approved"
	ActionDenied    = "denied"
	ActionCancelled = "cancelled"
	ActionReminded  = "reminded"
	ActionUploaded  = "uploaded"
	ActionExtracted = "extracted"
)

// Sink appends audit records. Implementations never update or delete.
type Sink interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
	Close() error
}

// NewRecord builds a record with a fresh id and the current UTC time.
// detail is marshaled to JSON; nil yields an empty object.
func NewRecord(entityType, entityID, action string, actor domain.Actor, detail any) (domain.AuditRecord, error) {
	raw := json.RawMessage(`{}`)
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return domain.AuditRecord{}, fmt.Errorf("marshaling audit detail: %w", err)
		}
		raw = b
	}
	return domain.AuditRecord{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actor.ID,
		ActorKind:  actor.Kind,
		Detail:     raw,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// ToolAction is the action name recorded for a dispatched tool call.
func ToolAction(tool string) string { return "tool." + tool }

// Multi fans a record out to several sinks. Every sink is attempted; errors are joined.
type Multi []Sink

// Append writes rec to every sink.
func (m Multi) Append(ctx context.Context, rec domain.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards records.
type Nop struct{}

func (Nop) Append(context.Context, domain.AuditRecord) error { return nil }
func (Nop) Close() error                                    { return nil }
