package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// CalendarRepository implements storage.CalendarStore.
type CalendarRepository struct {
	db *gorm.DB
}

// NewCalendarRepository creates a CalendarRepository.
func NewCalendarRepository(db *gorm.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListBetween returns events overlapping [start, end], ordered by start date then name.
func (r *CalendarRepository) ListBetween(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error) {
	var models []CalendarEventModel
	err := r.db.WithContext(ctx).
		Where("start_date <= ? AND end_date >= ?", domain.Day(end), domain.Day(start)).
		Order("start_date ASC, name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing calendar events: %w", err)
	}
	out := make([]domain.CalendarEvent, len(models))
	for i := range models {
		out[i] = toCalendarDomain(&models[i])
	}
	return out, nil
}

// Upsert inserts or replaces an event. A nil ID is assigned.
func (r *CalendarRepository) Upsert(ctx context.Context, ev *domain.CalendarEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	m := CalendarEventModel{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		Name:      ev.Name,
		StartDate: domain.Day(ev.Start),
		EndDate:   domain.Day(ev.End),
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "name", "start_date", "end_date"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upserting calendar event %q: %w", ev.Name, err)
	}
	return nil
}
