package postgres

import (
	"encoding/json"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// --- Employee ---

func toEmployeeModel(e *domain.Employee) EmployeeModel {
	m := EmployeeModel{
		ID:         e.ID,
		Name:       e.Name,
		Email:      e.Email,
		Tier:       string(e.Tier),
		ManagerID:  e.ManagerID,
		Department: e.Department,
	}
	if !e.HireDate.IsZero() {
		d := domain.Day(e.HireDate)
		m.HireDate = &d
	}
	return m
}

func toEmployeeDomain(m *EmployeeModel) *domain.Employee {
	e := &domain.Employee{
		ID:         m.ID,
		Name:       m.Name,
		Email:      m.Email,
		Tier:       domain.Tier(m.Tier),
		ManagerID:  m.ManagerID,
		Department: m.Department,
	}
	if m.HireDate != nil {
		e.HireDate = domain.Day(*m.HireDate)
	}
	return e
}

// --- Balance ---

func toBalanceDomain(m *BalanceModel) *domain.Balance {
	return &domain.Balance{
		EmployeeID: m.EmployeeID,
		Accrued:    m.AccruedDays,
		Used:       m.UsedDays,
		Current:    m.CurrentDays,
		UpdatedAt:  m.UpdatedAt,
	}
}

// --- Calendar ---

func toCalendarDomain(m *CalendarEventModel) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:    m.ID,
		Kind:  domain.EventKind(m.Kind),
		Name:  m.Name,
		Start: domain.Day(m.StartDate),
		End:   domain.Day(m.EndDate),
	}
}

// --- PTO ---

func toPTOModel(r *domain.PTORequest) PTORequestModel {
	return PTORequestModel{
		ID:               r.ID,
		EmployeeID:       r.EmployeeID,
		ApproverID:       r.ApproverID,
		StartDate:        domain.Day(r.StartDate),
		EndDate:          domain.Day(r.EndDate),
		Days:             r.Days,
		Reason:           r.Reason,
		Status:           string(r.Status),
		DecisionNotes:    r.DecisionNotes,
		EscalationReason: r.EscalationReason,
		BalanceBefore:    r.BalanceBefore,
		BalanceAfter:     r.BalanceAfter,
		Forced:           r.Forced,
		CreatedAt:        r.CreatedAt,
		DecidedAt:        r.DecidedAt,
	}
}

func toPTODomain(m *PTORequestModel) domain.PTORequest {
	return domain.PTORequest{
		ID:               m.ID,
		EmployeeID:       m.EmployeeID,
		ApproverID:       m.ApproverID,
		StartDate:        domain.Day(m.StartDate),
		EndDate:          domain.Day(m.EndDate),
		Days:             m.Days,
		Reason:           m.Reason,
		Status:           domain.RequestStatus(m.Status),
		DecisionNotes:    m.DecisionNotes,
		EscalationReason: m.EscalationReason,
		BalanceBefore:    m.BalanceBefore,
		BalanceAfter:     m.BalanceAfter,
		Forced:           m.Forced,
		CreatedAt:        m.CreatedAt,
		DecidedAt:        m.DecidedAt,
	}
}

// --- Expense ---

func toExpenseModel(r *domain.ExpenseRequest) ExpenseRequestModel {
	return ExpenseRequestModel{
		ID:               r.ID,
		EmployeeID:       r.EmployeeID,
		ApproverID:       r.ApproverID,
		AmountCents:      r.AmountCents,
		Currency:         r.Currency,
		Category:         r.Category,
		Description:      r.Description,
		ExpenseDate:      domain.Day(r.ExpenseDate),
		ReceiptID:        r.ReceiptID,
		Status:           string(r.Status),
		DecisionNotes:    r.DecisionNotes,
		EscalationReason: r.EscalationReason,
		CreatedAt:        r.CreatedAt,
		DecidedAt:        r.DecidedAt,
	}
}

func toExpenseDomain(m *ExpenseRequestModel) domain.ExpenseRequest {
	return domain.ExpenseRequest{
		ID:               m.ID,
		EmployeeID:       m.EmployeeID,
		ApproverID:       m.ApproverID,
		AmountCents:      m.AmountCents,
		Currency:         m.Currency,
		Category:         m.Category,
		Description:      m.Description,
		ExpenseDate:      domain.Day(m.ExpenseDate),
		ReceiptID:        m.ReceiptID,
		Status:           domain.RequestStatus(m.Status),
		DecisionNotes:    m.DecisionNotes,
		EscalationReason: m.EscalationReason,
		CreatedAt:        m.CreatedAt,
		DecidedAt:        m.DecidedAt,
	}
}

// --- Receipt ---

func toReceiptModel(r *domain.Receipt) (ReceiptModel, error) {
	m := ReceiptModel{
		ID:          r.ID,
		EmployeeID:  r.EmployeeID,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Path:        r.Path,
		Size:        r.Size,
		CreatedAt:   r.CreatedAt,
	}
	if r.Extracted != nil {
		data, err := json.Marshal(r.Extracted)
		if err != nil {
			return ReceiptModel{}, err
		}
		m.Extracted = JSONB(data)
	}
	return m, nil
}

func toReceiptDomain(m *ReceiptModel) *domain.Receipt {
	r := &domain.Receipt{
		ID:          m.ID,
		EmployeeID:  m.EmployeeID,
		Filename:    m.Filename,
		ContentType: m.ContentType,
		Path:        m.Path,
		Size:        m.Size,
		CreatedAt:   m.CreatedAt,
	}
	if len(m.Extracted) > 0 {
		var data domain.ReceiptData
		if err := json.Unmarshal(m.Extracted, &data); err == nil {
			r.Extracted = &data
		}
	}
	return r
}

// --- Audit ---

func toAuditModel(rec domain.AuditRecord) AuditRecordModel {
	detail := JSONB(rec.Detail)
	if len(detail) == 0 {
		detail = JSONB(`{}`)
	}
	return AuditRecordModel{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		ActorID:    rec.ActorID,
		ActorKind:  string(rec.ActorKind),
		Detail:     detail,
		Timestamp:  rec.Timestamp,
	}
}

func toAuditDomain(m *AuditRecordModel) domain.AuditRecord {
	return domain.AuditRecord{
		ID:         m.ID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Action:     m.Action,
		ActorID:    m.ActorID,
		ActorKind:  domain.ActorKind(m.ActorKind),
		Detail:     json.RawMessage(m.Detail),
		Timestamp:  m.Timestamp,
	}
}
