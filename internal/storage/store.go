// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/llm"
)

// ErrConflict is returned when a conditional update matched no rows: the
// balance was insufficient or the request was no longer in the expected status.
var ErrConflict = errors.New("storage: conditional update matched no rows")

// Store is the unified persistence interface.
// It provides access to all domain-specific sub-stores through accessor methods.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	Employees() EmployeeStore
	Balances() BalanceStore
	Calendar() CalendarStore
	PTORequests() PTORequestStore
	ExpenseRequests() ExpenseRequestStore
	Receipts() ReceiptStore
	Audit() AuditStore
	Conversations() ConversationStore

	// WithinTx runs fn inside one database transaction. The Store passed to fn
	// is scoped to that transaction; fn returning an error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle.
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// EmployeeStore reads identity records. Writes come from seeding only.
type EmployeeStore interface {
	Get(ctx context.Context, id string) (*domain.Employee, error)
	Upsert(ctx context.Context, e *domain.Employee) error
	ListReports(ctx context.Context, managerID string) ([]domain.Employee, error)
}

// BalanceStore manages PTO balances.
type BalanceStore interface {
	Get(ctx context.Context, employeeID string) (*domain.Balance, error)
	Upsert(ctx context.Context, b *domain.Balance) error
	// Debit subtracts days only if the current balance covers them.
	// Returns ErrConflict otherwise.
	Debit(ctx context.Context, employeeID string, days float64) (*domain.Balance, error)
	// Credit returns days to the balance.
	Credit(ctx context.Context, employeeID string, days float64) (*domain.Balance, error)
}

// CalendarStore holds holidays and blackout periods.
type CalendarStore interface {
	// ListBetween returns events overlapping the inclusive range, ordered by start then name.
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error)
	Upsert(ctx context.Context, ev *domain.CalendarEvent) error
}

// DecisionUpdate is applied by a conditional status transition.
type DecisionUpdate struct {
	Status       domain.RequestStatus
	ApproverID   string
	Notes        string
	DecidedAt    time.Time
	BalanceAfter *float64 // PTO only.
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	EmployeeIDs   []string             // Nil matches everyone; empty matches no one.
	Status        domain.RequestStatus // Empty matches every status.
	CreatedBefore time.Time            // Zero disables.
	Limit         int                  // Default 50.
}

// PTORequestStore persists PTO requests.
type PTORequestStore interface {
	Create(ctx context.Context, r *domain.PTORequest) error
	Get(ctx context.Context, id uuid.UUID) (*domain.PTORequest, error)
	List(ctx context.Context, f RequestFilter) ([]domain.PTORequest, error)
	// Transition moves the request from status from to d.Status.
	// Returns ErrConflict when the stored status is not from.
	Transition(ctx context.Context, id uuid.UUID, from domain.RequestStatus, d DecisionUpdate) error
}

// ExpenseRequestStore persists expense requests.
type ExpenseRequestStore interface {
	Create(ctx context.Context, r *domain.ExpenseRequest) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ExpenseRequest, error)
	List(ctx context.Context, f RequestFilter) ([]domain.ExpenseRequest, error)
	Transition(ctx context.Context, id uuid.UUID, from domain.RequestStatus, d DecisionUpdate) error
	// SameDayCategoryTotal sums approved, auto-approved and pending amounts in
	// category on day for the employee.
	SameDayCategoryTotal(ctx context.Context, employeeID, category string, day time.Time) (int64, error)
}

// ReceiptStore persists uploaded receipts.
type ReceiptStore interface {
	Create(ctx context.Context, r *domain.Receipt) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Receipt, error)
	SetExtracted(ctx context.Context, id uuid.UUID, data *domain.ReceiptData) error
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	Limit      int // Default 100.
}

// AuditStore is append-only: no update or delete methods exist.
type AuditStore interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
	// Query returns matching records, oldest first.
	Query(ctx context.Context, f AuditFilter) ([]domain.AuditRecord, error)
}

// ConversationStore persists chat transcripts.
type ConversationStore interface {
	// GetOrCreateConversation returns an existing conversation or creates a new one.
	// The userID is verified on existing conversations to prevent cross-user access.
	GetOrCreateConversation(ctx context.Context, userID string, convID uuid.UUID) (uuid.UUID, error)
	// AppendMessages atomically appends one or more messages to a conversation.
	AppendMessages(ctx context.Context, convID uuid.UUID, msgs []llm.Message) error
	// LoadHistory returns the most recent non-trace messages, up to maxMessages,
	// ordered oldest-first.
	LoadHistory(ctx context.Context, convID uuid.UUID, maxMessages int) ([]llm.Message, error)
	// DeleteConversation removes all messages and the conversation record.
	DeleteConversation(ctx context.Context, convID uuid.UUID) error
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
