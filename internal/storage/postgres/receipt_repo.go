package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// ReceiptRepository implements storage.ReceiptStore.
type ReceiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a ReceiptRepository.
func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Create inserts receipt metadata. A nil ID is assigned.
func (r *ReceiptRepository) Create(ctx context.Context, rc *domain.Receipt) error {
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	m, err := toReceiptModel(rc)
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("receipt %s already exists: %w", rc.ID, err)
		}
		return fmt.Errorf("inserting receipt: %w", err)
	}
	return nil
}

// Get returns the receipt or a NotFoundError.
func (r *ReceiptRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	var m ReceiptModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "receipt", id.String())
	}
	return toReceiptDomain(&m), nil
}

// SetExtracted stores the extraction result.
func (r *ReceiptRepository) SetExtracted(ctx context.Context, id uuid.UUID, data *domain.ReceiptData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding extraction: %w", err)
	}
	res := r.db.WithContext(ctx).Model(&ReceiptModel{}).Where("id = ?", id).Update("extracted", JSONB(raw))
	if res.Error != nil {
		return fmt.Errorf("updating receipt %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Entity: "receipt", ID: id.String()}
	}
	return nil
}
