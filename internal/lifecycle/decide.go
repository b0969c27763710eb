package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// Decision is a manager's verdict on a pending request.
type Decision struct {
	Kind       domain.RequestKind
	RequestID  uuid.UUID
	ApproverID string
	Approve    bool
	Notes      string
}

// Outcome is the result of a decision or cancellation.
type Outcome struct {
	RequestID    uuid.UUID            `json:"request_id"`
	Kind         domain.RequestKind   `json:"kind"`
	Status       domain.RequestStatus `json:"status"`
	BalanceAfter *float64             `json:"balance_after,omitempty"`
	UnpaidDays   float64              `json:"unpaid_days,omitempty"`
}

// requestRef is the kind-independent view of a stored request.
type requestRef struct {
	kind       domain.RequestKind
	id         uuid.UUID
	employeeID string
	status     domain.RequestStatus
	days       int
	summary    string
	createdAt  time.Time
}

func loadRequest(ctx context.Context, s storage.Store, kind domain.RequestKind, id uuid.UUID) (*requestRef, error) {
	switch kind {
	case domain.KindPTO:
		r, err := s.PTORequests().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &requestRef{kind: kind, id: r.ID, employeeID: r.EmployeeID, status: r.Status, days: r.Days, summary: ptoSummary(r), createdAt: r.CreatedAt}, nil
	case domain.KindExpense:
		r, err := s.ExpenseRequests().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &requestRef{kind: kind, id: r.ID, employeeID: r.EmployeeID, status: r.Status, summary: expenseSummary(r), createdAt: r.CreatedAt}, nil
	}
	return nil, fmt.Errorf("unknown request kind %q", kind)
}

func transitionRequest(ctx context.Context, s storage.Store, ref *requestRef, d storage.DecisionUpdate) error {
	var err error
	if ref.kind == domain.KindPTO {
		err = s.PTORequests().Transition(ctx, ref.id, domain.StatusPending, d)
	} else {
		err = s.ExpenseRequests().Transition(ctx, ref.id, domain.StatusPending, d)
	}
	if errors.Is(err, storage.ErrConflict) {
		return ErrTerminal
	}
	return err
}

func entityType(kind domain.RequestKind) string {
	if kind == domain.KindPTO {
		return audit.EntityPTORequest
	}
	return audit.EntityExpenseRequest
}

func checkPending(status domain.RequestStatus) error {
	switch status {
	case domain.StatusPending:
		return nil
	case domain.StatusAutoApproved:
		return ErrNotPending
	default:
		return ErrTerminal
	}
}

// Decide applies a manager decision. Only the requester's manager may decide,
// and only while the request is pending. Approving PTO debits whatever part
// of the request the balance still covers; the rest is recorded as unpaid.
func (m *Manager) Decide(ctx context.Context, d Decision) (*Outcome, error) {
	now := m.now()
	status := domain.StatusDenied
	action := audit.ActionDenied
	if d.Approve {
		status = domain.StatusApproved
		action = audit.ActionApproved
	}

	var (
		out      = &Outcome{RequestID: d.RequestID, Kind: d.Kind, Status: status}
		employee *domain.Employee
		ref      *requestRef
		written  []domain.AuditRecord
	)
	err := m.store.WithinTx(ctx, func(tx storage.Store) error {
		var err error
		ref, err = loadRequest(ctx, tx, d.Kind, d.RequestID)
		if err != nil {
			return err
		}
		employee, err = tx.Employees().Get(ctx, ref.employeeID)
		if err != nil {
			return fmt.Errorf("loading requester: %w", err)
		}
		if d.ApproverID == "" || employee.ManagerID != d.ApproverID {
			return &domain.AuthorizationError{
				ActorID: d.ApproverID,
				Entity:  string(d.Kind) + " request",
				ID:      d.RequestID.String(),
				Reason:  "only the requester's manager can decide",
			}
		}
		if err := checkPending(ref.status); err != nil {
			return err
		}

		upd := storage.DecisionUpdate{Status: status, ApproverID: d.ApproverID, Notes: d.Notes, DecidedAt: now}
		detail := map[string]any{
			"employee_id":     ref.employeeID,
			"previous_status": ref.status,
			"status":          status,
			"approver_id":     d.ApproverID,
			"notes":           d.Notes,
		}

		if d.Approve && ref.kind == domain.KindPTO {
			before, err := currentBalance(ctx, tx, ref.employeeID)
			if err != nil {
				return fmt.Errorf("reading balance: %w", err)
			}
			debit := math.Max(0, math.Min(float64(ref.days), before))
			after := before
			if debit > 0 {
				b, err := tx.Balances().Debit(ctx, ref.employeeID, debit)
				if err != nil {
					return fmt.Errorf("debiting balance: %w", err)
				}
				after = b.Current
			}
			upd.BalanceAfter = &after
			out.BalanceAfter = &after
			out.UnpaidDays = float64(ref.days) - debit
			detail["business_days"] = ref.days
			detail["balance_before"] = before
			detail["balance_after"] = after
			detail["unpaid_days"] = out.UnpaidDays
		}

		if err := transitionRequest(ctx, tx, ref, upd); err != nil {
			return err
		}
		return appendAudit(ctx, tx, &written, entityType(ref.kind), ref.id.String(), action,
			domain.Actor{ID: d.ApproverID, Kind: domain.ActorHuman}, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("deciding %s request %s: %w", d.Kind, d.RequestID, err)
	}

	m.mirrorAudit(ctx, written)
	m.logger.InfoContext(ctx, "request decided",
		slog.String("kind", string(d.Kind)),
		slog.String("request_id", d.RequestID.String()),
		slog.String("approver_id", d.ApproverID),
		slog.String("status", string(status)),
	)
	if m.recorder != nil {
		m.recorder.RecordResolution(string(d.Kind), string(status))
	}
	m.notify(ctx, Notice{
		Kind:        d.Kind,
		RequestID:   d.RequestID,
		Employee:    *employee,
		RecipientID: employee.ID,
		Summary:     ref.summary,
		Reason:      d.Notes,
		Status:      status,
	}, true)
	return out, nil
}

// Cancel withdraws a pending request on behalf of its requester.
func (m *Manager) Cancel(ctx context.Context, actor domain.Actor, kind domain.RequestKind, id uuid.UUID) (*Outcome, error) {
	now := m.now()
	var written []domain.AuditRecord
	err := m.store.WithinTx(ctx, func(tx storage.Store) error {
		ref, err := loadRequest(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if ref.employeeID != actor.ID {
			return &domain.AuthorizationError{
				ActorID: actor.ID,
				Entity:  string(kind) + " request",
				ID:      id.String(),
				Reason:  "only the requester can cancel",
			}
		}
		if err := checkPending(ref.status); err != nil {
			return err
		}
		if err := transitionRequest(ctx, tx, ref, storage.DecisionUpdate{
			Status:    domain.StatusCancelled,
			Notes:     "cancelled by requester",
			DecidedAt: now,
		}); err != nil {
			return err
		}
		return appendAudit(ctx, tx, &written, entityType(kind), id.String(), audit.ActionCancelled, actor, map[string]any{
			"employee_id":     ref.employeeID,
			"previous_status": ref.status,
			"status":          domain.StatusCancelled,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cancelling %s request %s: %w", kind, id, err)
	}

	m.mirrorAudit(ctx, written)
	m.logger.InfoContext(ctx, "request cancelled",
		slog.String("kind", string(kind)),
		slog.String("request_id", id.String()),
		slog.String("actor_id", actor.ID),
	)
	if m.recorder != nil {
		m.recorder.RecordResolution(string(kind), string(domain.StatusCancelled))
	}
	return &Outcome{RequestID: id, Kind: kind, Status: domain.StatusCancelled}, nil
}

// Summary is a kind-independent listing row.
type Summary struct {
	ID               uuid.UUID            `json:"id"`
	Kind             domain.RequestKind   `json:"kind"`
	EmployeeID       string               `json:"employee_id"`
	Status           domain.RequestStatus `json:"status"`
	Summary          string               `json:"summary"`
	EscalationReason string               `json:"escalation_reason,omitempty"`
	DecisionNotes    string               `json:"decision_notes,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	DecidedAt        *time.Time           `json:"decided_at,omitempty"`
}

// Query narrows a listing.
type Query struct {
	Kind          domain.RequestKind // Empty lists both kinds.
	Status        domain.RequestStatus
	CreatedBefore time.Time
	Limit         int
}

const defaultListLimit = 20

// ListMine returns the employee's requests, newest first.
func (m *Manager) ListMine(ctx context.Context, employeeID string, q Query) ([]Summary, error) {
	return m.list(ctx, []string{employeeID}, q)
}

// ListPendingForManager returns pending requests from the manager's direct reports.
func (m *Manager) ListPendingForManager(ctx context.Context, managerID string, limit int) ([]Summary, error) {
	reports, err := m.store.Employees().ListReports(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return m.list(ctx, ids, Query{Status: domain.StatusPending, Limit: limit})
}

func (m *Manager) list(ctx context.Context, employeeIDs []string, q Query) ([]Summary, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	f := storage.RequestFilter{EmployeeIDs: employeeIDs, Status: q.Status, CreatedBefore: q.CreatedBefore, Limit: limit}

	var out []Summary
	if q.Kind == "" || q.Kind == domain.KindPTO {
		rows, err := m.store.PTORequests().List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("listing pto requests: %w", err)
		}
		for i := range rows {
			r := &rows[i]
			out = append(out, Summary{
				ID: r.ID, Kind: domain.KindPTO, EmployeeID: r.EmployeeID, Status: r.Status,
				Summary: ptoSummary(r), EscalationReason: r.EscalationReason, DecisionNotes: r.DecisionNotes,
				CreatedAt: r.CreatedAt, DecidedAt: r.DecidedAt,
			})
		}
	}
	if q.Kind == "" || q.Kind == domain.KindExpense {
		rows, err := m.store.ExpenseRequests().List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("listing expense requests: %w", err)
		}
		for i := range rows {
			r := &rows[i]
			out = append(out, Summary{
				ID: r.ID, Kind: domain.KindExpense, EmployeeID: r.EmployeeID, Status: r.Status,
				Summary: expenseSummary(r), EscalationReason: r.EscalationReason, DecisionNotes: r.DecisionNotes,
				CreatedAt: r.CreatedAt, DecidedAt: r.DecidedAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

const reminderBatch = 200

// RemindStale re-notifies managers about requests pending longer than age and
// records a reminded audit entry for each. It returns the number of reminders sent.
func (m *Manager) RemindStale(ctx context.Context, age time.Duration) (int, error) {
	cutoff := m.now().Add(-age)
	stale, err := m.list(ctx, nil, Query{Status: domain.StatusPending, CreatedBefore: cutoff, Limit: reminderBatch})
	if err != nil {
		return 0, err
	}

	system := domain.Actor{ID: "scheduler", Kind: domain.ActorSystem}
	sent := 0
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		emp, err := m.store.Employees().Get(ctx, s.EmployeeID)
		if err != nil {
			m.logger.WarnContext(ctx, "reminder skipped",
				slog.String("request_id", s.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !emp.HasManager() {
			continue
		}

		rec, err := audit.NewRecord(entityType(s.Kind), s.ID.String(), audit.ActionReminded, system, map[string]any{
			"manager_id":    emp.ManagerID,
			"pending_since": s.CreatedAt,
		})
		if err != nil {
			return sent, err
		}
		if err := m.store.Audit().Append(ctx, rec); err != nil {
			return sent, fmt.Errorf("recording reminder: %w", err)
		}
		m.mirrorAudit(ctx, []domain.AuditRecord{rec})
		m.notify(ctx, Notice{
			Kind:         s.Kind,
			RequestID:    s.ID,
			Employee:     *emp,
			RecipientID:  emp.ManagerID,
			Summary:      s.Summary,
			Reason:       s.EscalationReason,
			Status:       s.Status,
			Reminder:     true,
			PendingSince: s.CreatedAt,
		}, false)
		sent++
	}

	if sent > 0 {
		m.logger.InfoContext(ctx, "pending reminders sent", slog.Int("count", sent))
	}
	return sent, nil
}
