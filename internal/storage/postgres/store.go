package postgres

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/storage"
)

// Store implements storage.Store on a GORM connection. The SQLite backend
// uses the same type with a different dialector.
type Store struct {
	db     *gorm.DB
	driver string
	inTx   bool

	// Sub-store instances (created lazily on first access).
	mu              sync.Mutex
	employees       storage.EmployeeStore
	balances        storage.BalanceStore
	calendar        storage.CalendarStore
	ptoRequests     storage.PTORequestStore
	expenseRequests storage.ExpenseRequestStore
	receipts        storage.ReceiptStore
	audit           storage.AuditStore
	conversations   storage.ConversationStore
}

// NewStore wraps an open GORM connection as a unified Store.
func NewStore(db *gorm.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// WithinTx runs fn in a transaction; every sub-store handed to fn shares it.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driver: s.driver, inTx: true})
	})
}

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// Close releases the connection pool. It is a no-op inside a transaction.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns the storage driver name.
func (s *Store) Driver() string {
	return s.driver
}

// GormDB returns the underlying GORM DB for direct access when needed.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// --- Sub-store accessors ---

func (s *Store) Employees() storage.EmployeeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.employees == nil {
		s.employees = NewEmployeeRepository(s.db)
	}
	return s.employees
}

func (s *Store) Balances() storage.BalanceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances == nil {
		s.balances = NewBalanceRepository(s.db)
	}
	return s.balances
}

func (s *Store) Calendar() storage.CalendarStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calendar == nil {
		s.calendar = NewCalendarRepository(s.db)
	}
	return s.calendar
}

func (s *Store) PTORequests() storage.PTORequestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptoRequests == nil {
		s.ptoRequests = NewPTORequestRepository(s.db)
	}
	return s.ptoRequests
}

func (s *Store) ExpenseRequests() storage.ExpenseRequestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expenseRequests == nil {
		s.expenseRequests = NewExpenseRequestRepository(s.db)
	}
	return s.expenseRequests
}

func (s *Store) Receipts() storage.ReceiptStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipts == nil {
		s.receipts = NewReceiptRepository(s.db)
	}
	return s.receipts
}

func (s *Store) Audit() storage.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.db)
	}
	return s.audit
}

func (s *Store) Conversations() storage.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = NewConversationRepository(s.db)
	}
	return s.conversations
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
