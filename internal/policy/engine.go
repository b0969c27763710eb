package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// EmployeeReader looks up identities.
type EmployeeReader interface {
	Get(ctx context.Context, id string) (*domain.Employee, error)
}

// BalanceReader looks up PTO balances.
type BalanceReader interface {
	Get(ctx context.Context, employeeID string) (*domain.Balance, error)
}

// CalendarReader returns events overlapping an inclusive date range.
type CalendarReader interface {
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error)
}

// ExpenseTotals sums prior same-day expenses for the accumulation rule.
type ExpenseTotals interface {
	SameDayCategoryTotal(ctx context.Context, employeeID, category string, day time.Time) (int64, error)
}

// PolicyText answers natural-language questions about the handbook. Its
// answers are narration only and never feed a numeric decision.
type PolicyText interface {
	Ask(ctx context.Context, query string) (string, error)
}

// Recorder observes engine decisions (metrics).
type Recorder interface {
	RecordDecision(kind, recommendation string)
}

// Deps are the engine's read-only collaborators.
type Deps struct {
	Employees  EmployeeReader
	Balances   BalanceReader
	Calendar   CalendarReader
	Expenses   ExpenseTotals
	PolicyText PolicyText       // Optional.
	Clock      func() time.Time // Optional. Defaults to time.Now.
}

// Engine gathers evaluation inputs and runs the pure rule functions.
type Engine struct {
	rules    Rules
	deps     Deps
	recorder Recorder
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(rules Rules, deps Deps, logger *slog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{rules: rules, deps: deps, logger: logger}
}

// WithRecorder attaches a decision recorder.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// Rules returns the configured rules.
func (e *Engine) Rules() Rules { return e.rules }

// Today returns the engine clock's current civil date.
func (e *Engine) Today() time.Time { return domain.Day(e.deps.Clock()) }

// ValidatePTO evaluates a PTO draft for employeeID. confirmed carries the
// conversation's explicit confirmation signal.
func (e *Engine) ValidatePTO(ctx context.Context, employeeID string, draft PTODraft, confirmed bool) (*PTOResult, *domain.Employee, error) {
	emp, err := e.deps.Employees.Get(ctx, employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading employee: %w", err)
	}

	balance, err := e.currentBalance(ctx, employeeID)
	if err != nil {
		return nil, nil, err
	}

	lo, hi := draft.StartDate, draft.EndDate
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	events, err := e.deps.Calendar.ListBetween(ctx, lo, hi)
	if err != nil {
		return nil, nil, fmt.Errorf("loading calendar: %w", err)
	}

	res := EvaluatePTO(e.rules, draft, PTOContext{
		Employee:  *emp,
		Balance:   balance,
		Events:    events,
		Today:     e.Today(),
		Confirmed: confirmed,
	})

	e.logger.DebugContext(ctx, "pto evaluated",
		slog.String("employee_id", employeeID),
		slog.Int("business_days", res.BusinessDays),
		slog.String("recommendation", string(res.Recommendation)),
		slog.Int("violations", len(res.Violations)),
	)
	e.record(domain.KindPTO, res.Recommendation)
	return &res, emp, nil
}

// ValidateExpense evaluates an expense draft for employeeID.
func (e *Engine) ValidateExpense(ctx context.Context, employeeID string, draft ExpenseDraft) (*ExpenseResult, *domain.Employee, error) {
	emp, err := e.deps.Employees.Get(ctx, employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading employee: %w", err)
	}

	var prior int64
	if _, ok := e.rules.PerDiem(draft.Category); ok && e.deps.Expenses != nil && !draft.ExpenseDate.IsZero() {
		prior, err = e.deps.Expenses.SameDayCategoryTotal(ctx, employeeID, NormalizeCategory(draft.Category), domain.Day(draft.ExpenseDate))
		if err != nil {
			return nil, nil, fmt.Errorf("loading same-day totals: %w", err)
		}
	}

	res := EvaluateExpense(e.rules, draft, ExpenseContext{
		Employee:             *emp,
		SameDayCategoryCents: prior,
		Today:                e.Today(),
	})
	res.PolicyReference = e.policyReference(ctx, emp.Tier)

	e.logger.DebugContext(ctx, "expense evaluated",
		slog.String("employee_id", employeeID),
		slog.Int64("amount_cents", draft.AmountCents),
		slog.String("recommendation", string(res.Recommendation)),
		slog.Int("violations", len(res.Violations)),
	)
	e.record(domain.KindExpense, res.Recommendation)
	return &res, emp, nil
}

// currentBalance treats a missing balance row as zero days.
func (e *Engine) currentBalance(ctx context.Context, employeeID string) (float64, error) {
	b, err := e.deps.Balances.Get(ctx, employeeID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading balance: %w", err)
	}
	return b.Current, nil
}

const maxPolicyReference = 400

func (e *Engine) policyReference(ctx context.Context, tier domain.Tier) string {
	if e.deps.PolicyText == nil {
		return ""
	}
	answer, err := e.deps.PolicyText.Ask(ctx, fmt.Sprintf("expense reimbursement limits and receipt rules for %s employees", tier))
	if err != nil {
		e.logger.DebugContext(ctx, "policy text lookup failed", slog.String("error", err.Error()))
		return ""
	}
	if len(answer) > maxPolicyReference {
		answer = answer[:maxPolicyReference] + "..."
	}
	return answer
}

func (e *Engine) record(kind domain.RequestKind, rec Recommendation) {
	if e.recorder != nil {
		e.recorder.RecordDecision(string(kind), string(rec))
	}
}
