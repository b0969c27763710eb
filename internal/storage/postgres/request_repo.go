package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// transition applies a conditional status change on a request table.
func transition(ctx context.Context, db *gorm.DB, model any, entity string, id uuid.UUID, from domain.RequestStatus, d storage.DecisionUpdate) error {
	decidedAt := d.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	updates := map[string]any{
		"status":         string(d.Status),
		"approver_id":    d.ApproverID,
		"decision_notes": d.Notes,
		"decided_at":     decidedAt,
	}
	if d.BalanceAfter != nil {
		updates["balance_after"] = *d.BalanceAfter
	}

	res := db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating %s %s: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking %s %s: %w", entity, id, err)
		}
		if count == 0 {
			return &domain.NotFoundError{Entity: entity, ID: id.String()}
		}
		return fmt.Errorf("%w: %s %s is no longer %s", storage.ErrConflict, entity, id, from)
	}
	return nil
}

// PTORequestRepository implements storage.PTORequestStore.
type PTORequestRepository struct {
	db *gorm.DB
}

// NewPTORequestRepository creates a PTORequestRepository.
func NewPTORequestRepository(db *gorm.DB) *PTORequestRepository {
	return &PTORequestRepository{db: db}
}

// Create inserts a request. A nil ID is assigned.
func (r *PTORequestRepository) Create(ctx context.Context, req *domain.PTORequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	m := toPTOModel(req)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("inserting pto request: %w", err)
	}
	return nil
}

// Get returns the request or a NotFoundError.
func (r *PTORequestRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PTORequest, error) {
	var m PTORequestModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "pto request", id.String())
	}
	req := toPTODomain(&m)
	return &req, nil
}

// List returns requests matching f, newest first.
func (r *PTORequestRepository) List(ctx context.Context, f storage.RequestFilter) ([]domain.PTORequest, error) {
	var models []PTORequestModel
	if err := r.db.WithContext(ctx).Scopes(RequestScope(f)).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing pto requests: %w", err)
	}
	out := make([]domain.PTORequest, len(models))
	for i := range models {
		out[i] = toPTODomain(&models[i])
	}
	return out, nil
}

// Transition conditionally moves a request out of status from.
func (r *PTORequestRepository) Transition(ctx context.Context, id uuid.UUID, from domain.RequestStatus, d storage.DecisionUpdate) error {
	return transition(ctx, r.db, &PTORequestModel{}, "pto request", id, from, d)
}

// ExpenseRequestRepository implements storage.ExpenseRequestStore.
type ExpenseRequestRepository struct {
	db *gorm.DB
}

// NewExpenseRequestRepository creates an ExpenseRequestRepository.
func NewExpenseRequestRepository(db *gorm.DB) *ExpenseRequestRepository {
	return &ExpenseRequestRepository{db: db}
}

// Create inserts a request. A nil ID is assigned.
func (r *ExpenseRequestRepository) Create(ctx context.Context, req *domain.ExpenseRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	m := toExpenseModel(req)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("inserting expense request: %w", err)
	}
	return nil
}

// Get returns the request or a NotFoundError.
func (r *ExpenseRequestRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ExpenseRequest, error) {
	var m ExpenseRequestModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "expense request", id.String())
	}
	req := toExpenseDomain(&m)
	return &req, nil
}

// List returns requests matching f, newest first.
func (r *ExpenseRequestRepository) List(ctx context.Context, f storage.RequestFilter) ([]domain.ExpenseRequest, error) {
	var models []ExpenseRequestModel
	if err := r.db.WithContext(ctx).Scopes(RequestScope(f)).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing expense requests: %w", err)
	}
	out := make([]domain.ExpenseRequest, len(models))
	for i := range models {
		out[i] = toExpenseDomain(&models[i])
	}
	return out, nil
}

// Transition conditionally moves a request out of status from.
func (r *ExpenseRequestRepository) Transition(ctx context.Context, id uuid.UUID, from domain.RequestStatus, d storage.DecisionUpdate) error {
	return transition(ctx, r.db, &ExpenseRequestModel{}, "expense request", id, from, d)
}

// SameDayCategoryTotal sums live (approved, auto-approved, pending) amounts
// for employeeID in category on day.
func (r *ExpenseRequestRepository) SameDayCategoryTotal(ctx context.Context, employeeID, category string, day time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&ExpenseRequestModel{}).
		Where("employee_id = ? AND category = ? AND expense_date = ?", employeeID, category, domain.Day(day)).
		Where("status IN ?", []string{
			string(domain.StatusAutoApproved),
			string(domain.StatusApproved),
			string(domain.StatusPending),
		}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing same-day expenses: %w", err)
	}
	return total, nil
}
