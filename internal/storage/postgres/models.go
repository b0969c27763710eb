package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in JSONB columns (TEXT on SQLite).
type JSONB json.RawMessage

// EmployeeModel maps to the "employees" table.
type EmployeeModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	Email      string
	Tier       string `gorm:"not null;default:'junior'"`
	ManagerID  string `gorm:"index"`
	HireDate   *time.Time `gorm:"type:date"`
	Department string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (EmployeeModel) TableName() string { return "employees" }

// BalanceModel maps to the "pto_balances" table. One row per employee.
type BalanceModel struct {
	EmployeeID  string  `gorm:"primaryKey"`
	AccruedDays float64 `gorm:"type:numeric(8,2);not null;default:0"`
	UsedDays    float64 `gorm:"type:numeric(8,2);not null;default:0"`
	CurrentDays float64 `gorm:"type:numeric(8,2);not null;default:0"`
	UpdatedAt   time.Time
}

func (BalanceModel) TableName() string { return "pto_balances" }

// CalendarEventModel maps to the "calendar_events" table.
type CalendarEventModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind      string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	StartDate time.Time `gorm:"type:date;not null;index"`
	EndDate   time.Time `gorm:"type:date;not null;index"`
	CreatedAt time.Time
}

func (CalendarEventModel) TableName() string { return "calendar_events" }

// PTORequestModel maps to the "pto_requests" table.
type PTORequestModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	EmployeeID       string    `gorm:"not null;index:idx_pto_emp_status"`
	ApproverID       string
	StartDate        time.Time `gorm:"type:date;not null"`
	EndDate          time.Time `gorm:"type:date;not null"`
	Days             int       `gorm:"not null"`
	Reason           string    `gorm:"type:text"`
	Status           string    `gorm:"not null;index:idx_pto_emp_status"`
	DecisionNotes    string    `gorm:"type:text"`
	EscalationReason string    `gorm:"type:text"`
	BalanceBefore    float64   `gorm:"type:numeric(8,2)"`
	BalanceAfter     float64   `gorm:"type:numeric(8,2)"`
	Forced           bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"index"`
	DecidedAt        *time.Time
}

func (PTORequestModel) TableName() string { return "pto_requests" }

// ExpenseRequestModel maps to the "expense_requests" table.
type ExpenseRequestModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EmployeeID       string     `gorm:"not null;index:idx_exp_emp_day"`
	ApproverID       string
	AmountCents      int64      `gorm:"not null"`
	Currency         string     `gorm:"not null;default:'USD'"`
	Category         string     `gorm:"not null;index:idx_exp_emp_day"`
	Description      string     `gorm:"type:text"`
	ExpenseDate      time.Time  `gorm:"type:date;not null;index:idx_exp_emp_day"`
	ReceiptID        *uuid.UUID `gorm:"type:uuid"`
	Status           string     `gorm:"not null;index"`
	DecisionNotes    string     `gorm:"type:text"`
	EscalationReason string     `gorm:"type:text"`
	CreatedAt        time.Time  `gorm:"index"`
	DecidedAt        *time.Time
}

func (ExpenseRequestModel) TableName() string { return "expense_requests" }

// ReceiptModel maps to the "receipts" table.
type ReceiptModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	EmployeeID  string    `gorm:"not null;index"`
	Filename    string
	ContentType string
	Path        string `gorm:"not null"`
	Size        int64
	Extracted   JSONB `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (ReceiptModel) TableName() string { return "receipts" }

// AuditRecordModel maps to the "audit_records" table.
// No UpdatedAt or DeletedAt: the audit trail is append-only and immutable.
type AuditRecordModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	EntityType string    `gorm:"not null;index:idx_audit_entity"`
	EntityID   string    `gorm:"not null;index:idx_audit_entity"`
	Action     string    `gorm:"not null"`
	ActorID    string    `gorm:"not null;index"`
	ActorKind  string    `gorm:"not null"`
	Detail     JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	Timestamp  time.Time `gorm:"column:recorded_at;not null;index"`
}

func (AuditRecordModel) TableName() string { return "audit_records" }

// ConversationModel maps to the "conversations" table.
type ConversationModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:idx_conv_user"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ConversationModel) TableName() string { return "conversations" }

// ConversationMessageModel maps to the "conversation_messages" table.
type ConversationMessageModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID     uuid.UUID `gorm:"type:uuid;not null;index:idx_convmsg_seq"`
	SeqNum             int       `gorm:"not null;index:idx_convmsg_seq"`
	Role               string    `gorm:"not null"`
	Content            string    `gorm:"type:text"`
	Trace              bool      `gorm:"not null;default:false"`
	AwaitsConfirmation bool      `gorm:"not null;default:false"`
	TokenEstimate      int       `gorm:"not null;default:0"`
	CreatedAt          time.Time
}

func (ConversationMessageModel) TableName() string { return "conversation_messages" }

// allModels lists every table in creation order.
func allModels() []any {
	return []any{
		&EmployeeModel{},
		&BalanceModel{},
		&CalendarEventModel{},
		&PTORequestModel{},
		&ExpenseRequestModel{},
		&ReceiptModel{},
		&AuditRecordModel{},
		&ConversationModel{},
		&ConversationMessageModel{},
	}
}
