package policy

import "strings"

// Recommendation is the engine's verdict for a request.
type Recommendation string

const (
	AutoApprove       Recommendation = "AUTO_APPROVE"
	EscalateToManager Recommendation = "ESCALATE_TO_MANAGER"
	Deny              Recommendation = "DENY"
)

// Code identifies a policy rule failure.
type Code string

const (
	// PTO.
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeBlackoutConflict    Code = "blackout_conflict"
	CodeInvalidDateRange    Code = "invalid_date_range"
	CodePastDate            Code = "past_date"
	CodeNoBusinessDays      Code = "no_business_days"

	// Expense.
	CodeMissingReceipt      Code = "missing_receipt"
	CodeNonReimbursableItem Code = "non_reimbursable_item"
	CodePerDiemExceeded     Code = "per_diem_exceeded"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeFutureDate          Code = "future_date"
	CodeInvalidCategory     Code = "invalid_category"
)

// Violation is a detected rule failure. It is data for the caller to narrate,
// not an error. Blocking violations force a denial.
type Violation struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Blocking   bool           `json:"blocking"`
	Overridden bool           `json:"overridden,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

type violations []Violation

func (vs violations) blocking() bool {
	for _, v := range vs {
		if v.Blocking {
			return true
		}
	}
	return false
}

func (vs violations) has(code Code) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the violation codes in report order.
func Codes(vs []Violation) []Code {
	out := make([]Code, len(vs))
	for i, v := range vs {
		out[i] = v.Code
	}
	return out
}

// Explain renders every violation on its own line.
func Explain(vs []Violation) string {
	if len(vs) == 0 {
		return "No policy violations."
	}
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(v.Message)
		if v.Overridden {
			b.WriteString(" (overridden after confirmation)")
		}
	}
	return b.String()
}
