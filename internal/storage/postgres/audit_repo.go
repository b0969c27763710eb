package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// AuditRepository implements storage.AuditStore.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit record. This is the only write method;
// immutability is enforced at the interface level.
func (r *AuditRepository) Append(ctx context.Context, rec domain.AuditRecord) error {
	model := toAuditModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Query returns matching records, oldest first. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, f storage.AuditFilter) ([]domain.AuditRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Order("recorded_at ASC").Limit(limit)
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}

	var models []AuditRecordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}

	out := make([]domain.AuditRecord, len(models))
	for i := range models {
		out[i] = toAuditDomain(&models[i])
	}
	return out, nil
}
