package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// BalanceRepository implements storage.BalanceStore.
// Mutations are single conditional UPDATE statements so that two concurrent
// debits can never both succeed against the same days. SQLite has no
// SELECT FOR UPDATE, so row locks are not used.
type BalanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a BalanceRepository.
func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get returns the balance or a NotFoundError.
func (r *BalanceRepository) Get(ctx context.Context, employeeID string) (*domain.Balance, error) {
	var m BalanceModel
	if err := r.db.WithContext(ctx).Where("employee_id = ?", employeeID).First(&m).Error; err != nil {
		return nil, notFound(err, "balance", employeeID)
	}
	return toBalanceDomain(&m), nil
}

// Upsert sets a balance. Current is derived as Accrued - Used.
func (r *BalanceRepository) Upsert(ctx context.Context, b *domain.Balance) error {
	m := BalanceModel{
		EmployeeID:  b.EmployeeID,
		AccruedDays: b.Accrued,
		UsedDays:    b.Used,
		CurrentDays: b.Accrued - b.Used,
		UpdatedAt:   time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"accrued_days", "used_days", "current_days", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upserting balance for %s: %w", b.EmployeeID, err)
	}
	return nil
}

// Debit subtracts days when current_days covers them.
func (r *BalanceRepository) Debit(ctx context.Context, employeeID string, days float64) (*domain.Balance, error) {
	if days < 0 {
		return nil, fmt.Errorf("debit of negative days %.2f", days)
	}
	res := r.db.WithContext(ctx).
		Model(&BalanceModel{}).
		Where("employee_id = ? AND current_days >= ?", employeeID, days).
		Updates(map[string]any{
			"current_days": gorm.Expr("current_days - ?", days),
			"used_days":    gorm.Expr("used_days + ?", days),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("debiting balance for %s: %w", employeeID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, employeeID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: balance of %s does not cover %.2f days", storage.ErrConflict, employeeID, days)
	}
	return r.Get(ctx, employeeID)
}

// Credit adds days back to the balance.
func (r *BalanceRepository) Credit(ctx context.Context, employeeID string, days float64) (*domain.Balance, error) {
	if days < 0 {
		return nil, fmt.Errorf("credit of negative days %.2f", days)
	}
	res := r.db.WithContext(ctx).
		Model(&BalanceModel{}).
		Where("employee_id = ?", employeeID).
		Updates(map[string]any{
			"current_days": gorm.Expr("current_days + ?", days),
			"used_days":    gorm.Expr("used_days - ?", days),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("crediting balance for %s: %w", employeeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFound(gorm.ErrRecordNotFound, "balance", employeeID)
	}
	return r.Get(ctx, employeeID)
}
