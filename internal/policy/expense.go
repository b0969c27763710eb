package policy

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// ExpenseDraft is a reimbursement request before evaluation.
type ExpenseDraft struct {
	AmountCents int64
	Currency    string
	Category    string
	Description string
	ExpenseDate time.Time
	HasReceipt  bool
}

// ExpenseContext is everything EvaluateExpense reads besides the draft.
type ExpenseContext struct {
	Employee domain.Employee
	// SameDayCategoryCents sums the employee's approved and pending expenses
	// in the same category on the same day, excluding this draft.
	SameDayCategoryCents int64
	Today                time.Time // Zero disables the future-date rule.
}

// ExpenseResult is the engine's decision for an expense draft.
type ExpenseResult struct {
	Violations         []Violation    `json:"violations"`
	AmountCents        int64          `json:"amount_cents"`
	CeilingCents       int64          `json:"ceiling_cents"`
	SameDayTotalCents  int64          `json:"same_day_total_cents,omitempty"`
	PerDiemCents       int64          `json:"per_diem_cents,omitempty"`
	CanAutoApprove     bool           `json:"can_auto_approve"`
	RequiresEscalation bool           `json:"requires_escalation"`
	Recommendation     Recommendation `json:"recommendation"`
	EscalationReason   string         `json:"escalation_reason,omitempty"`
	PolicyReference    string         `json:"policy_reference,omitempty"` // Narration only.
}

// HasViolation reports whether code was detected.
func (r *ExpenseResult) HasViolation(code Code) bool {
	return violations(r.Violations).has(code)
}

// EvaluateExpense applies the expense rules, reporting every failure in one pass.
func EvaluateExpense(rules Rules, draft ExpenseDraft, ec ExpenseContext) ExpenseResult {
	res := ExpenseResult{
		AmountCents:  draft.AmountCents,
		CeilingCents: rules.ExpenseCeiling(ec.Employee.Tier),
	}
	var vs violations

	if draft.AmountCents <= 0 {
		vs = append(vs, Violation{
			Code:     CodeInvalidAmount,
			Message:  fmt.Sprintf("Amount %s must be greater than zero.", domain.FormatCents(draft.AmountCents)),
			Blocking: true,
		})
	}

	if !rules.KnownCategory(draft.Category) {
		vs = append(vs, Violation{
			Code:     CodeInvalidCategory,
			Message:  fmt.Sprintf("Unknown expense category %q (accepted: %s).", draft.Category, strings.Join(rules.Categories, ", ")),
			Blocking: true,
		})
	}

	if !ec.Today.IsZero() && !draft.ExpenseDate.IsZero() && domain.Day(draft.ExpenseDate).After(domain.Day(ec.Today)) {
		vs = append(vs, Violation{
			Code:     CodeFutureDate,
			Message:  fmt.Sprintf("Expense date %s is in the future.", domain.FormatDate(draft.ExpenseDate)),
			Blocking: true,
		})
	}

	if draft.AmountCents > rules.ReceiptThresholdCents && !draft.HasReceipt {
		vs = append(vs, Violation{
			Code: CodeMissingReceipt,
			Message: fmt.Sprintf("A receipt is required for expenses over %s; none is attached.",
				domain.FormatCents(rules.ReceiptThresholdCents)),
			Blocking: true,
		})
	}

	if matched := MatchKeywords(draft.Description, rules.NonReimbursableKeywords); len(matched) > 0 {
		vs = append(vs, Violation{
			Code:     CodeNonReimbursableItem,
			Message:  fmt.Sprintf("The description mentions non-reimbursable items: %s.", strings.Join(matched, ", ")),
			Blocking: true,
			Details:  map[string]any{"matched": matched},
		})
	}

	if limit, ok := rules.PerDiem(draft.Category); ok && draft.AmountCents > 0 {
		total := ec.SameDayCategoryCents + draft.AmountCents
		res.SameDayTotalCents = total
		res.PerDiemCents = limit
		if total > limit {
			vs = append(vs, Violation{
				Code: CodePerDiemExceeded,
				Message: fmt.Sprintf("Same-day %s total %s exceeds the %s daily limit.",
					NormalizeCategory(draft.Category), domain.FormatCents(total), domain.FormatCents(limit)),
				Details: map[string]any{
					"prior_cents": ec.SameDayCategoryCents,
					"total_cents": total,
					"limit_cents": limit,
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
	case draft.AmountCents > res.CeilingCents:
		res.Recommendation = EscalateToManager
		res.EscalationReason = fmt.Sprintf("amount %s exceeds the %s auto-approval ceiling for %s employees",
			domain.FormatCents(draft.AmountCents), domain.FormatCents(res.CeilingCents), ec.Employee.Tier)
	case len(vs) > 0:
		res.Recommendation = EscalateToManager
		res.EscalationReason = vs[0].Message
	default:
		res.Recommendation = AutoApprove
	}

	res.CanAutoApprove = res.Recommendation == AutoApprove
	res.RequiresEscalation = res.Recommendation == EscalateToManager
	return res
}

// MatchKeywords returns the keywords that appear in text as whole words or
// phrases, ignoring case and punctuation. A trailing "s" plural also matches.
func MatchKeywords(text string, keywords []string) []string {
	norm := " " + normalizeText(text) + " "
	var matched []string
	seen := make(map[string]bool)
	for _, kw := range keywords {
		k := normalizeText(kw)
		if k == "" || seen[k] {
			continue
		}
		if strings.Contains(norm, " "+k+" ") || strings.Contains(norm, " "+k+"s ") {
			matched = append(matched, kw)
			seen[k] = true
		}
	}
	return matched
}

// normalizeText lowercases s and collapses every non-alphanumeric run to one space.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
