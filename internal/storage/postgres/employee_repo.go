package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// EmployeeRepository implements storage.EmployeeStore.
type EmployeeRepository struct {
	db *gorm.DB
}

// NewEmployeeRepository creates an EmployeeRepository.
func NewEmployeeRepository(db *gorm.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// Get returns the employee or a NotFoundError.
func (r *EmployeeRepository) Get(ctx context.Context, id string) (*domain.Employee, error) {
	var m EmployeeModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "employee", id)
	}
	return toEmployeeDomain(&m), nil
}

// Upsert inserts or replaces an employee record.
func (r *EmployeeRepository) Upsert(ctx context.Context, e *domain.Employee) error {
	m := toEmployeeModel(e)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "tier", "manager_id", "hire_date", "department", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upserting employee %s: %w", e.ID, err)
	}
	return nil
}

// ListReports returns the direct reports of managerID, ordered by id.
func (r *EmployeeRepository) ListReports(ctx context.Context, managerID string) ([]domain.Employee, error) {
	var models []EmployeeModel
	if err := r.db.WithContext(ctx).Where("manager_id = ?", managerID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing reports of %s: %w", managerID, err)
	}
	out := make([]domain.Employee, len(models))
	for i := range models {
		out[i] = *toEmployeeDomain(&models[i])
	}
	return out, nil
}
