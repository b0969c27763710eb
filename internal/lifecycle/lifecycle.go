// Package lifecycle persists evaluated requests and moves them through their
// states. Every write that touches a request, a balance and the audit trail
// happens inside one storage transaction.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

var (
	// ErrTerminal is returned when a decision or cancellation targets a request
	// that already reached a terminal status.
	ErrTerminal = errors.New("request is no longer pending")
	// ErrInsufficientBalance is returned when an auto-approved PTO request can
	// no longer be covered at write time.
	ErrInsufficientBalance = errors.New("insufficient PTO balance")
	// ErrNotPending is returned by decisions on requests that never escalated.
	ErrNotPending = errors.New("request does not await a manager decision")
)

// Notifier tells people about escalations and decisions.
type Notifier interface {
	Escalated(ctx context.Context, n Notice) error
	Decided(ctx context.Context, n Notice) error
}

// Notice describes a request event for a notification.
type Notice struct {
	Kind         domain.RequestKind
	RequestID    uuid.UUID
	Employee     domain.Employee
	RecipientID  string // Manager for escalations, employee for decisions.
	Summary      string
	Reason       string
	Status       domain.RequestStatus
	Reminder     bool
	PendingSince time.Time
}

// Recorder observes lifecycle outcomes (metrics).
type Recorder interface {
	RecordSubmission(kind, status string)
	RecordResolution(kind, status string)
}

// Submission is the result of persisting a request.
type Submission struct {
	RequestID    uuid.UUID            `json:"request_id"`
	Kind         domain.RequestKind   `json:"kind"`
	Status       domain.RequestStatus `json:"status"`
	BalanceAfter *float64             `json:"balance_after,omitempty"`
}

// Manager owns request persistence.
type Manager struct {
	store    storage.Store
	mirror   audit.Sink
	notifier Notifier
	recorder Recorder
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuditMirror copies every committed audit record to sink (e.g. a JSONL file).
func WithAuditMirror(sink audit.Sink) Option {
	return func(m *Manager) { m.mirror = sink }
}

// WithNotifier sets the escalation/decision notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// New creates a Manager.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{
		store:  store,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time { return m.clock().UTC() }

// appendAudit writes rec inside tx and queues it for the mirror.
func appendAudit(ctx context.Context, tx storage.Store, pending *[]domain.AuditRecord, entityType, entityID, action string, actor domain.Actor, detail any) error {
	rec, err := audit.NewRecord(entityType, entityID, action, actor, detail)
	if err != nil {
		return err
	}
	if err := tx.Audit().Append(ctx, rec); err != nil {
		return err
	}
	*pending = append(*pending, rec)
	return nil
}

// mirrorAudit copies committed records to the mirror sink. Failures are
// logged; the transactional copy is authoritative.
func (m *Manager) mirrorAudit(ctx context.Context, recs []domain.AuditRecord) {
	if m.mirror == nil {
		return
	}
	for _, rec := range recs {
		if err := m.mirror.Append(ctx, rec); err != nil {
			m.logger.WarnContext(ctx, "audit mirror write failed",
				slog.String("action", rec.Action),
				slog.String("entity_id", rec.EntityID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Manager) notify(ctx context.Context, n Notice, decided bool) {
	if m.notifier == nil || n.RecipientID == "" {
		return
	}
	var err error
	if decided {
		err = m.notifier.Decided(ctx, n)
	} else {
		err = m.notifier.Escalated(ctx, n)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "notification failed",
			slog.String("request_id", n.RequestID.String()),
			slog.String("recipient", n.RecipientID),
			slog.String("error", err.Error()),
		)
	}
}

// currentBalance reads the balance inside tx; a missing row is zero.
func currentBalance(ctx context.Context, tx storage.Store, employeeID string) (float64, error) {
	b, err := tx.Balances().Get(ctx, employeeID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Current, nil
}
