package postgres

import (
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/storage"
)

const defaultListLimit = 50

// RequestScope applies a storage.RequestFilter to a request query.
func RequestScope(f storage.RequestFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case f.EmployeeIDs == nil:
		case len(f.EmployeeIDs) == 0:
			db = db.Where("1 = 0")
		default:
			db = db.Where("employee_id IN ?", f.EmployeeIDs)
		}
		if f.Status != "" {
			db = db.Where("status = ?", string(f.Status))
		}
		if !f.CreatedBefore.IsZero() {
			db = db.Where("created_at < ?", f.CreatedBefore.UTC())
		}
		limit := f.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		return db.Order("created_at DESC").Limit(limit)
	}
}
