package policy

import (
	"fmt"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// PTODraft is a time-off request before evaluation.
type PTODraft struct {
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	Force     bool // Submit despite insufficient balance.
}

// PTOContext is everything EvaluatePTO reads besides the draft.
type PTOContext struct {
	Employee  domain.Employee
	Balance   float64
	Events    []domain.CalendarEvent // Holidays and blackouts around the range.
	Today     time.Time              // Zero disables the past-date rule.
	Confirmed bool                   // The user explicitly confirmed an override.
}

// PTOResult is the engine's decision for a PTO draft.
type PTOResult struct {
	Violations           []Violation    `json:"violations"`
	BusinessDays         int            `json:"business_days"`
	Threshold            int            `json:"threshold"`
	Balance              float64        `json:"current_balance"`
	CanAutoApprove       bool           `json:"can_auto_approve"`
	RequiresEscalation   bool           `json:"requires_escalation"`
	Recommendation       Recommendation `json:"recommendation"`
	ConfirmationRequired bool           `json:"confirmation_required,omitempty"`
	Forced               bool           `json:"forced,omitempty"`
	EscalationReason     string         `json:"escalation_reason,omitempty"`
}

// HasViolation reports whether code was detected.
func (r *PTOResult) HasViolation(code Code) bool {
	return violations(r.Violations).has(code)
}

// EvaluatePTO applies the PTO rules. Every applicable rule is evaluated and
// reported; nothing short-circuits.
func EvaluatePTO(rules Rules, draft PTODraft, pc PTOContext) PTOResult {
	start, end := domain.Day(draft.StartDate), domain.Day(draft.EndDate)
	res := PTOResult{
		Threshold: rules.PTOThreshold(pc.Employee.Tier),
		Balance:   pc.Balance,
	}
	var vs violations

	validRange := !end.Before(start)
	if !validRange {
		vs = append(vs, Violation{
			Code:     CodeInvalidDateRange,
			Message:  fmt.Sprintf("End date %s is before start date %s.", domain.FormatDate(end), domain.FormatDate(start)),
			Blocking: true,
		})
	}

	if !pc.Today.IsZero() && start.Before(domain.Day(pc.Today)) {
		vs = append(vs, Violation{
			Code:     CodePastDate,
			Message:  fmt.Sprintf("Start date %s is in the past.", domain.FormatDate(start)),
			Blocking: true,
		})
	}

	if validRange {
		res.BusinessDays = BusinessDays(start, end, pc.Events)

		if res.BusinessDays == 0 {
			vs = append(vs, Violation{
				Code:     CodeNoBusinessDays,
				Message:  "The requested range contains no business days (only weekends or holidays).",
				Blocking: true,
			})
		}

		if pc.Balance < float64(res.BusinessDays) {
			vs = append(vs, insufficientBalance(rules, draft, pc, res.BusinessDays, &res))
		}

		if ev := FirstBlackoutConflict(start, end, pc.Events); ev != nil {
			vs = append(vs, Violation{
				Code: CodeBlackoutConflict,
				Message: fmt.Sprintf("The request overlaps the %q blackout period (%s to %s).",
					ev.Name, domain.FormatDate(ev.Start), domain.FormatDate(ev.End)),
				Blocking: true,
				Details: map[string]any{
					"period": ev.Name,
					"start":  domain.FormatDate(ev.Start),
					"end":    domain.FormatDate(ev.End),
				},
			})
		}
	}

	res.Violations = []Violation(vs)
	if res.Violations == nil {
		res.Violations = []Violation{}
	}

	switch {
	case vs.blocking():
		res.Recommendation = Deny
	case len(vs) == 0 && res.BusinessDays <= res.Threshold:
		res.Recommendation = AutoApprove
	default:
		res.Recommendation = EscalateToManager
		if res.EscalationReason == "" {
			res.EscalationReason = fmt.Sprintf("%d business days exceeds the %d-day auto-approval threshold for %s employees",
				res.BusinessDays, res.Threshold, pc.Employee.Tier)
		}
	}

	res.CanAutoApprove = res.Recommendation == AutoApprove
	res.RequiresEscalation = res.Recommendation == EscalateToManager
	res.ConfirmationRequired = onlyBlockingIs(vs, CodeInsufficientBalance)
	return res
}

// insufficientBalance builds the violation and records the override outcome on res.
func insufficientBalance(rules Rules, draft PTODraft, pc PTOContext, days int, res *PTOResult) Violation {
	v := Violation{
		Code: CodeInsufficientBalance,
		Message: fmt.Sprintf("Insufficient PTO balance: %s days available, %d business days requested.",
			formatDays(pc.Balance), days),
		Details: map[string]any{
			"available": pc.Balance,
			"requested": days,
			"shortfall": float64(days) - pc.Balance,
		},
	}
	switch {
	case rules.balanceMode() == ModeAutoEscalate:
		v.Overridden = true
		res.EscalationReason = "insufficient balance; the manager decides on partially unpaid leave"
	case draft.Force && pc.Confirmed:
		v.Overridden = true
		res.Forced = true
		res.EscalationReason = "submitted despite insufficient balance after user confirmation; the manager decides on partially unpaid leave"
	default:
		v.Blocking = true
	}
	return v
}

// onlyBlockingIs reports whether code is the sole blocking violation.
func onlyBlockingIs(vs violations, code Code) bool {
	found := false
	for _, v := range vs {
		if !v.Blocking {
			continue
		}
		if v.Code != code {
			return false
		}
		found = true
	}
	return found
}

func formatDays(d float64) string {
	if d == float64(int64(d)) {
		return fmt.Sprintf("%d", int64(d))
	}
	return fmt.Sprintf("%.1f", d)
}
