package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// StatusFor maps an engine recommendation to the stored status.
func StatusFor(rec policy.Recommendation) domain.RequestStatus {
	switch rec {
	case policy.AutoApprove:
		return domain.StatusAutoApproved
	case policy.EscalateToManager:
		return domain.StatusPending
	default:
		return domain.StatusDenied
	}
}

// approvalType names how a status was reached, for the audit detail.
func approvalType(status domain.RequestStatus) string {
	switch status {
	case domain.StatusAutoApproved:
		return "auto"
	case domain.StatusPending:
		return "manager"
	default:
		return "policy_denied"
	}
}

// PTOSubmission carries an evaluated PTO draft.
type PTOSubmission struct {
	Actor    domain.Actor
	Employee domain.Employee
	Draft    policy.PTODraft
	Result   *policy.PTOResult
}

// SubmitPTO persists a PTO request with the status implied by its decision.
// An auto-approved request debits the balance in the same transaction as the
// request row and its created audit record.
func (m *Manager) SubmitPTO(ctx context.Context, s PTOSubmission) (*Submission, error) {
	if s.Result == nil {
		return nil, fmt.Errorf("submitting pto request: missing decision")
	}
	status := StatusFor(s.Result.Recommendation)
	now := m.now()

	req := &domain.PTORequest{
		ID:               uuid.New(),
		EmployeeID:       s.Employee.ID,
		StartDate:        domain.Day(s.Draft.StartDate),
		EndDate:          domain.Day(s.Draft.EndDate),
		Days:             s.Result.BusinessDays,
		Reason:           s.Draft.Reason,
		Status:           status,
		EscalationReason: s.Result.EscalationReason,
		Forced:           s.Result.Forced,
		CreatedAt:        now,
	}

	var written []domain.AuditRecord
	err := m.store.WithinTx(ctx, func(tx storage.Store) error {
		before, err := currentBalance(ctx, tx, s.Employee.ID)
		if err != nil {
			return fmt.Errorf("reading balance: %w", err)
		}
		req.BalanceBefore = before
		req.BalanceAfter = before

		if status == domain.StatusAutoApproved && req.Days > 0 {
			b, err := tx.Balances().Debit(ctx, s.Employee.ID, float64(req.Days))
			if err != nil {
				if errors.Is(err, storage.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: %d days requested", ErrInsufficientBalance, req.Days)
				}
				return fmt.Errorf("debiting balance: %w", err)
			}
			req.BalanceAfter = b.Current
			req.DecidedAt = &now
		}
		if status == domain.StatusDenied {
			req.DecidedAt = &now
			req.DecisionNotes = policy.Explain(s.Result.Violations)
		}

		if err := tx.PTORequests().Create(ctx, req); err != nil {
			return err
		}

		return appendAudit(ctx, tx, &written, audit.EntityPTORequest, req.ID.String(), audit.ActionCreated, s.Actor, map[string]any{
			"employee_id":       req.EmployeeID,
			"status":            req.Status,
			"approval_type":     approvalType(req.Status),
			"recommendation":    s.Result.Recommendation,
			"start_date":        domain.FormatDate(req.StartDate),
			"end_date":          domain.FormatDate(req.EndDate),
			"business_days":     req.Days,
			"threshold":         s.Result.Threshold,
			"balance_before":    req.BalanceBefore,
			"balance_after":     req.BalanceAfter,
			"forced":            req.Forced,
			"violations":        policy.Codes(s.Result.Violations),
			"escalation_reason": req.EscalationReason,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("submitting pto request: %w", err)
	}

	m.mirrorAudit(ctx, written)
	m.logger.InfoContext(ctx, "pto request submitted",
		slog.String("request_id", req.ID.String()),
		slog.String("employee_id", req.EmployeeID),
		slog.String("status", string(req.Status)),
		slog.Int("business_days", req.Days),
	)
	if m.recorder != nil {
		m.recorder.RecordSubmission(string(domain.KindPTO), string(req.Status))
	}
	if req.Status == domain.StatusPending {
		m.notify(ctx, Notice{
			Kind:        domain.KindPTO,
			RequestID:   req.ID,
			Employee:    s.Employee,
			RecipientID: s.Employee.ManagerID,
			Summary:     ptoSummary(req),
			Reason:      req.EscalationReason,
			Status:      req.Status,
		}, false)
	}

	sub := &Submission{RequestID: req.ID, Kind: domain.KindPTO, Status: req.Status}
	if req.Status == domain.StatusAutoApproved {
		after := req.BalanceAfter
		sub.BalanceAfter = &after
	}
	return sub, nil
}

// ExpenseSubmission carries an evaluated expense draft.
type ExpenseSubmission struct {
	Actor     domain.Actor
	Employee  domain.Employee
	Draft     policy.ExpenseDraft
	ReceiptID *uuid.UUID
	Result    *policy.ExpenseResult
}

// SubmitExpense persists an expense request and its created audit record.
func (m *Manager) SubmitExpense(ctx context.Context, s ExpenseSubmission) (*Submission, error) {
	if s.Result == nil {
		return nil, fmt.Errorf("submitting expense request: missing decision")
	}
	status := StatusFor(s.Result.Recommendation)
	now := m.now()

	currency := strings.ToUpper(strings.TrimSpace(s.Draft.Currency))
	if currency == "" {
		currency = "USD"
	}
	req := &domain.ExpenseRequest{
		ID:               uuid.New(),
		EmployeeID:       s.Employee.ID,
		AmountCents:      s.Draft.AmountCents,
		Currency:         currency,
		Category:         policy.NormalizeCategory(s.Draft.Category),
		Description:      s.Draft.Description,
		ExpenseDate:      domain.Day(s.Draft.ExpenseDate),
		ReceiptID:        s.ReceiptID,
		Status:           status,
		EscalationReason: s.Result.EscalationReason,
		CreatedAt:        now,
	}
	if status.IsTerminal() {
		req.DecidedAt = &now
	}
	if status == domain.StatusDenied {
		req.DecisionNotes = policy.Explain(s.Result.Violations)
	}

	var written []domain.AuditRecord
	err := m.store.WithinTx(ctx, func(tx storage.Store) error {
		if err := tx.ExpenseRequests().Create(ctx, req); err != nil {
			return err
		}
		detail := map[string]any{
			"employee_id":       req.EmployeeID,
			"status":            req.Status,
			"approval_type":     approvalType(req.Status),
			"recommendation":    s.Result.Recommendation,
			"amount_cents":      req.AmountCents,
			"currency":          req.Currency,
			"category":          req.Category,
			"expense_date":      domain.FormatDate(req.ExpenseDate),
			"ceiling_cents":     s.Result.CeilingCents,
			"same_day_total":    s.Result.SameDayTotalCents,
			"has_receipt":       s.Draft.HasReceipt,
			"violations":        policy.Codes(s.Result.Violations),
			"escalation_reason": req.EscalationReason,
		}
		if req.ReceiptID != nil {
			detail["receipt_id"] = req.ReceiptID.String()
		}
		return appendAudit(ctx, tx, &written, audit.EntityExpenseRequest, req.ID.String(), audit.ActionCreated, s.Actor, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("submitting expense request: %w", err)
	}

	m.mirrorAudit(ctx, written)
	m.logger.InfoContext(ctx, "expense request submitted",
		slog.String("request_id", req.ID.String()),
		slog.String("employee_id", req.EmployeeID),
		slog.String("status", string(req.Status)),
		slog.Int64("amount_cents", req.AmountCents),
	)
	if m.recorder != nil {
		m.recorder.RecordSubmission(string(domain.KindExpense), string(req.Status))
	}
	if req.Status == domain.StatusPending {
		m.notify(ctx, Notice{
			Kind:        domain.KindExpense,
			RequestID:   req.ID,
			Employee:    s.Employee,
			RecipientID: s.Employee.ManagerID,
			Summary:     expenseSummary(req),
			Reason:      req.EscalationReason,
			Status:      req.Status,
		}, false)
	}

	return &Submission{RequestID: req.ID, Kind: domain.KindExpense, Status: req.Status}, nil
}

func ptoSummary(r *domain.PTORequest) string {
	return fmt.Sprintf("PTO %s to %s (%d business days)", domain.FormatDate(r.StartDate), domain.FormatDate(r.EndDate), r.Days)
}

func expenseSummary(r *domain.ExpenseRequest) string {
	return fmt.Sprintf("%s %s expense on %s: %s", domain.FormatCents(r.AmountCents), r.Category, domain.FormatDate(r.ExpenseDate), r.Description)
}
