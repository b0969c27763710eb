// Package domain defines the HR entities shared by the policy engine, the
// request lifecycle, storage and the tool layer.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tier selects an employee's auto-approval thresholds.
type Tier string

const (
	TierJunior Tier = "junior"
	TierSenior Tier = "senior"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierJunior || t == TierSenior
}

// Employee is the identity record read by the policy engine.
// Only an external admin process mutates it.
type Employee struct {
	ID         string
	Name       string
	Email      string
	Tier       Tier
	ManagerID  string // Empty when the employee has no manager.
	HireDate   time.Time
	Department string
}

// HasManager reports whether escalations can be routed to a manager.
func (e *Employee) HasManager() bool {
	return e.ManagerID != ""
}

// Balance is an employee's PTO balance in days.
// Current = Accrued - Used; it is only mutated by the lifecycle manager.
type Balance struct {
	EmployeeID string
	Accrued    float64
	Used       float64
	Current    float64
	UpdatedAt  time.Time
}

// EventKind classifies a calendar event.
type EventKind string

const (
	EventHoliday  EventKind = "holiday"
	EventBlackout EventKind = "blackout"
)

// CalendarEvent is read-only reference data. Start and End are inclusive civil dates.
type CalendarEvent struct {
	ID    uuid.UUID
	Kind  EventKind
	Name  string
	Start time.Time
	End   time.Time
}

// Covers reports whether day falls inside the event's inclusive range.
func (e *CalendarEvent) Covers(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(e.Start)) && !d.After(Day(e.End))
}

// Overlaps reports whether [start, end] intersects the event's inclusive range.
func (e *CalendarEvent) Overlaps(start, end time.Time) bool {
	return !Day(start).After(Day(e.End)) && !Day(end).Before(Day(e.Start))
}

// RequestKind distinguishes the two request variants.
type RequestKind string

const (
	KindPTO     RequestKind = "pto"
	KindExpense RequestKind = "expense"
)

// ParseRequestKind accepts "pto", "expense" and their common aliases.
func ParseRequestKind(s string) (RequestKind, bool) {
	switch s {
	case "pto", "leave", "time_off":
		return KindPTO, true
	case "expense", "expenses", "reimbursement":
		return KindExpense, true
	}
	return "", false
}

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	StatusPending      RequestStatus = "pending" // Escalated, awaiting the manager.
	StatusAutoApproved RequestStatus = "auto_approved"
	StatusApproved     RequestStatus = "approved"
	StatusDenied       RequestStatus = "denied"
	StatusCancelled    RequestStatus = "cancelled"
)

// ParseStatus normalizes a status string. "escalated" and "pending_manager"
// are accepted as aliases of StatusPending.
func ParseStatus(s string) (RequestStatus, bool) {
	switch s {
	case "pending", "escalated", "pending_manager":
		return StatusPending, true
	case "auto_approved":
		return StatusAutoApproved, true
	case "approved":
		return StatusApproved, true
	case "denied":
		return StatusDenied, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	}
	return "", false
}

// IsTerminal reports whether the request can never re-enter a decision path.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusAutoApproved, StatusApproved, StatusDenied, StatusCancelled:
		return true
	}
	return false
}

// IsApproved reports whether the status is an approved outcome.
func (s RequestStatus) IsApproved() bool {
	return s == StatusAutoApproved || s == StatusApproved
}

// PTORequest is a time-off request.
type PTORequest struct {
	ID               uuid.UUID
	EmployeeID       string
	ApproverID       string // Set once a manager decides.
	StartDate        time.Time
	EndDate          time.Time
	Days             int
	Reason           string
	Status           RequestStatus
	DecisionNotes    string
	EscalationReason string
	BalanceBefore    float64
	BalanceAfter     float64
	Forced           bool // Submitted despite insufficient balance after confirmation.
	CreatedAt        time.Time
	DecidedAt        *time.Time
}

// ExpenseRequest is a reimbursement request. Amounts are in cents.
type ExpenseRequest struct {
	ID               uuid.UUID
	EmployeeID       string
	ApproverID       string
	AmountCents      int64
	Currency         string
	Category         string
	Description      string
	ExpenseDate      time.Time
	ReceiptID        *uuid.UUID
	Status           RequestStatus
	DecisionNotes    string
	EscalationReason string
	CreatedAt        time.Time
	DecidedAt        *time.Time
}

// Receipt is an uploaded receipt image owned by one employee.
type Receipt struct {
	ID          uuid.UUID
	EmployeeID  string
	Filename    string
	ContentType string
	Path        string // Storage location of the image bytes.
	Size        int64
	Extracted   *ReceiptData // Nil until extraction succeeds.
	CreatedAt   time.Time
}

// ReceiptData is the output of the receipt-extraction collaborator.
type ReceiptData struct {
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Date        time.Time  `json:"date"`
	Merchant    string     `json:"merchant"`
	LineItems   []LineItem `json:"line_items,omitempty"`
}

// LineItem is a single extracted receipt line.
type LineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// ActorKind identifies who caused an audited side effect.
type ActorKind string

const (
	ActorHuman  ActorKind = "human"
	ActorAgent  ActorKind = "agent"
	ActorSystem ActorKind = "system"
)

// Actor is the identity attached to an audit record.
type Actor struct {
	ID   string
	Kind ActorKind
}

// AuditRecord is an append-only compliance entry.
type AuditRecord struct {
	ID         uuid.UUID
	EntityType string
	EntityID   string
	Action     string
	ActorID    string
	ActorKind  ActorKind
	Detail     json.RawMessage
	Timestamp  time.Time
}
