package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// DefaultMaxBytes caps an uploaded receipt.
const DefaultMaxBytes = 10 << 20

// ErrTooLarge is returned when an upload exceeds the size cap.
var ErrTooLarge = errors.New("receipt exceeds the maximum upload size")

// ErrUnsupportedType is returned for uploads that are not images or PDFs.
var ErrUnsupportedType = errors.New("unsupported receipt content type")

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Config configures a Service.
type Config struct {
	Dir      string // Where image bytes are written.
	MaxBytes int64
}

// Service stores receipts and extracts their contents on request.
type Service struct {
	store     storage.Store
	extractor Extractor
	cfg       Config
	mirror    audit.Sink
	logger    *slog.Logger
}

// NewService creates a Service. extractor may be nil, in which case
// extraction always asks for manual entry.
func NewService(store storage.Store, extractor Extractor, cfg Config, mirror audit.Sink, logger *slog.Logger) *Service {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, extractor: extractor, cfg: cfg, mirror: mirror, logger: logger}
}

// Upload writes the image to disk and records a receipt owned by actor.
func (s *Service) Upload(ctx context.Context, actor domain.Actor, filename, contentType string, r io.Reader) (*domain.Receipt, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := allowedTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating receipt directory: %w", err)
	}

	rc := &domain.Receipt{
		ID:          uuid.New(),
		EmployeeID:  actor.ID,
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	rc.Path = filepath.Join(s.cfg.Dir, rc.ID.String()+ext)

	size, err := s.writeFile(rc.Path, r)
	if err != nil {
		return nil, err
	}
	rc.Size = size

	var recs []domain.AuditRecord
	err = s.store.WithinTx(ctx, func(tx storage.Store) error {
		if err := tx.Receipts().Create(ctx, rc); err != nil {
			return err
		}
		rec, err := audit.NewRecord(audit.EntityReceipt, rc.ID.String(), audit.ActionUploaded, actor, map[string]any{
			"filename":     rc.Filename,
			"content_type": rc.ContentType,
			"size":         rc.Size,
		})
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return tx.Audit().Append(ctx, rec)
	})
	if err != nil {
		_ = os.Remove(rc.Path)
		return nil, fmt.Errorf("recording receipt: %w", err)
	}
	s.mirrorAudit(ctx, recs)

	s.logger.InfoContext(ctx, "receipt uploaded",
		slog.String("receipt_id", rc.ID.String()),
		slog.String("employee_id", actor.ID),
		slog.Int64("size", rc.Size),
	)
	return rc, nil
}

func (s *Service) writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating receipt file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.cfg.MaxBytes {
		err = ErrTooLarge
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: empty upload", ErrUnreadable)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Get returns a receipt owned by employeeID.
func (s *Service) Get(ctx context.Context, employeeID string, id uuid.UUID) (*domain.Receipt, error) {
	rc, err := s.store.Receipts().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rc.EmployeeID != employeeID {
		return nil, &domain.AuthorizationError{ActorID: employeeID, Entity: "receipt", ID: id.String(), Reason: "receipt belongs to another employee"}
	}
	return rc, nil
}

// Extract runs the extractor on a receipt owned by actor. Results are cached
// on the receipt; a failure wraps ErrUnreadable so callers can ask for a
// clearer image or manual entry.
func (s *Service) Extract(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.ReceiptData, error) {
	rc, err := s.Get(ctx, actor.ID, id)
	if err != nil {
		return nil, err
	}
	if rc.Extracted != nil {
		return rc.Extracted, nil
	}
	if s.extractor == nil {
		return nil, fmt.Errorf("%w: extraction is not configured", ErrUnreadable)
	}

	content, err := os.ReadFile(rc.Path)
	if err != nil {
		return nil, fmt.Errorf("reading receipt %s: %w", id, err)
	}
	data, err := s.extractor.Extract(ctx, content, rc.ContentType)
	if err != nil {
		s.logger.WarnContext(ctx, "receipt extraction failed",
			slog.String("receipt_id", id.String()),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, ErrUnreadable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var recs []domain.AuditRecord
	err = s.store.WithinTx(ctx, func(tx storage.Store) error {
		if err := tx.Receipts().SetExtracted(ctx, id, data); err != nil {
			return err
		}
		rec, err := audit.NewRecord(audit.EntityReceipt, id.String(), audit.ActionExtracted, actor, map[string]any{
			"amount_cents": data.AmountCents,
			"currency":     data.Currency,
			"merchant":     data.Merchant,
		})
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return tx.Audit().Append(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}
	s.mirrorAudit(ctx, recs)
	return data, nil
}

func (s *Service) mirrorAudit(ctx context.Context, recs []domain.AuditRecord) {
	if s.mirror == nil {
		return
	}
	for _, rec := range recs {
		if err := s.mirror.Append(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "audit mirror write failed", slog.String("error", err.Error()))
		}
	}
}
