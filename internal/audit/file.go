package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// fileLine is the JSONL shape of one record.
type fileLine struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id"`
	ActorKind  string          `json:"actor_kind"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// FileSink writes records as append-only JSONL.
// Each record is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can append concurrently.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewFileSink opens (or creates) the audit file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{file: f, logger: logger}, nil
}

// Append serializes rec as JSON and appends it to the file.
// Marshal happens outside the lock; only the file write is serialized.
func (s *FileSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(fileLine{
		ID:         rec.ID.String(),
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		ActorID:    rec.ActorID,
		ActorKind:  string(rec.ActorKind),
		Detail:     rec.Detail,
		Timestamp:  rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, writeErr := s.file.Write(data)
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit record: %w", writeErr)
	}

	s.logger.DebugContext(ctx, "audit record written",
		slog.String("entity_type", rec.EntityType),
		slog.String("entity_id", rec.EntityID),
		slog.String("action", rec.Action),
		slog.String("actor_id", rec.ActorID),
	)
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
