package audit

import (
	"context"
	"log/slog"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// Appender is the storage side of the audit trail.
type Appender interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

// StoreSink adapts a database audit repository to Sink.
type StoreSink struct {
	store  Appender
	logger *slog.Logger
}

// NewStoreSink creates a database-backed sink.
func NewStoreSink(store Appender, logger *slog.Logger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

// Append inserts rec.
func (s *StoreSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	if err := s.store.Append(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to append audit record",
			slog.String("action", rec.Action),
			slog.String("entity_id", rec.EntityID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Close is a no-op. The database connection is owned by the storage layer.
func (s *StoreSink) Close() error { return nil }
