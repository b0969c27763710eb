// Package pto implements the time-off tools: balance lookup, validation and
// submission. Every tool acts on the invocation's user, never on an id taken
// from the model's arguments.
package pto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/storage"
	"github.com/jkaninda/ruhusa/internal/tools"
)

// BalanceTool implements check_pto_balance.
type BalanceTool struct {
	balances storage.BalanceStore
	engine   *policy.Engine
	logger   *slog.Logger
}

// NewBalanceTool creates a check_pto_balance tool.
func NewBalanceTool(balances storage.BalanceStore, engine *policy.Engine, logger *slog.Logger) *BalanceTool {
	return &BalanceTool{balances: balances, engine: engine, logger: logger}
}

func (t *BalanceTool) Name() string { return "check_pto_balance" }
func (t *BalanceTool) Description() string {
	return "Return the caller's current PTO balance in days (accrued, used and available)."
}
func (t *BalanceTool) InputSchema() map[string]any { return tools.Object(nil) }
func (t *BalanceTool) SideEffect() bool            { return false }

func (t *BalanceTool) Execute(ctx context.Context, inv tools.Invocation, _ map[string]any) (*tools.Result, error) {
	b, err := t.balances.Get(ctx, inv.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return tools.OK("No PTO balance is on record; the available balance is 0 days.", map[string]any{
			"employee_id":     inv.UserID,
			"current_balance": 0,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading balance: %w", err)
	}
	return tools.OK(fmt.Sprintf("You have %.1f PTO days available.", b.Current), map[string]any{
		"employee_id":     inv.UserID,
		"accrued":         b.Accrued,
		"used":            b.Used,
		"current_balance": b.Current,
		"as_of":           domain.FormatDate(t.engine.Today()),
	}), nil
}

// draftParams are the shared arguments of the validate and submit tools.
type draftParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
	Force     bool   `json:"force"`
}

func draftSchema() map[string]any {
	return tools.Object(map[string]any{
		"start_date": tools.Date("First day of leave"),
		"end_date":   tools.Date("Last day of leave, inclusive"),
		"reason":     tools.String("Optional reason shown to the manager"),
		"force": tools.Bool("Submit even though the balance is insufficient. " +
			"Only honored after the user explicitly confirmed."),
	}, "start_date", "end_date")
}

// parseDraft returns a failed observation when a date does not exist on the calendar.
func parseDraft(params map[string]any) (policy.PTODraft, *tools.Result) {
	var p draftParams
	if err := tools.DecodeParams(params, &p); err != nil {
		return policy.PTODraft{}, tools.Fail(err.Error(), nil)
	}
	start, err := domain.ParseDate(p.StartDate)
	if err != nil {
		return policy.PTODraft{}, tools.Fail(err.Error(), nil)
	}
	end, err := domain.ParseDate(p.EndDate)
	if err != nil {
		return policy.PTODraft{}, tools.Fail(err.Error(), nil)
	}
	return policy.PTODraft{StartDate: start, EndDate: end, Reason: p.Reason, Force: p.Force}, nil
}

// ValidateTool implements validate_pto_request. It never writes.
type ValidateTool struct {
	engine *policy.Engine
	logger *slog.Logger
}

// NewValidateTool creates a validate_pto_request tool.
func NewValidateTool(engine *policy.Engine, logger *slog.Logger) *ValidateTool {
	return &ValidateTool{engine: engine, logger: logger}
}

func (t *ValidateTool) Name() string { return "validate_pto_request" }
func (t *ValidateTool) Description() string {
	return "Check a PTO request against policy without submitting it. Returns business days, " +
		"every violation and the recommendation (AUTO_APPROVE, ESCALATE_TO_MANAGER or DENY)."
}
func (t *ValidateTool) InputSchema() map[string]any { return draftSchema() }
func (t *ValidateTool) SideEffect() bool            { return false }

func (t *ValidateTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	draft, bad := parseDraft(params)
	if bad != nil {
		return bad, nil
	}
	res, _, err := t.engine.ValidatePTO(ctx, inv.UserID, draft, inv.Confirmed)
	if err != nil {
		return nil, err
	}
	return tools.OK(describe(res), res), nil
}

// SubmitTool implements submit_pto_request.
type SubmitTool struct {
	engine    *policy.Engine
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
}

// NewSubmitTool creates a submit_pto_request tool.
func NewSubmitTool(engine *policy.Engine, manager *lifecycle.Manager, logger *slog.Logger) *SubmitTool {
	return &SubmitTool{engine: engine, lifecycle: manager, logger: logger}
}

func (t *SubmitTool) Name() string { return "submit_pto_request" }
func (t *SubmitTool) Description() string {
	return "Submit a PTO request. Short requests within the balance are approved immediately, " +
		"longer ones go to the manager, and requests violating policy are recorded as denied. " +
		"If the balance is insufficient, ask the user to confirm before resubmitting with force=true."
}
func (t *SubmitTool) InputSchema() map[string]any { return draftSchema() }
func (t *SubmitTool) SideEffect() bool            { return true }

func (t *SubmitTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	draft, bad := parseDraft(params)
	if bad != nil {
		return bad, nil
	}
	res, emp, err := t.engine.ValidatePTO(ctx, inv.UserID, draft, inv.Confirmed)
	if err != nil {
		return nil, err
	}

	if res.ConfirmationRequired {
		return tools.Fail(confirmationPrompt(res), map[string]any{
			"confirmation_required": true,
			"evaluation":            res,
		}), nil
	}

	sub, err := t.lifecycle.SubmitPTO(ctx, lifecycle.PTOSubmission{
		Actor:    inv.Actor(),
		Employee: *emp,
		Draft:    draft,
		Result:   res,
	})
	if errors.Is(err, lifecycle.ErrInsufficientBalance) {
		return tools.Fail("The balance changed before the request could be saved and no longer covers it. Nothing was submitted.", nil), nil
	}
	if err != nil {
		return nil, err
	}

	return tools.OK(submittedMessage(sub, res), map[string]any{
		"request_id":    sub.RequestID.String(),
		"status":        sub.Status,
		"balance_after": sub.BalanceAfter,
		"evaluation":    res,
	}), nil
}

func describe(res *policy.PTOResult) string {
	switch res.Recommendation {
	case policy.AutoApprove:
		return fmt.Sprintf("%d business days; within policy and would be approved automatically.", res.BusinessDays)
	case policy.EscalateToManager:
		return fmt.Sprintf("%d business days; would be sent to the manager: %s.", res.BusinessDays, res.EscalationReason)
	default:
		return fmt.Sprintf("%d business days; would be denied:\n%s", res.BusinessDays, policy.Explain(res.Violations))
	}
}

func confirmationPrompt(res *policy.PTOResult) string {
	reason := "Insufficient PTO balance."
	for _, v := range res.Violations {
		if v.Code == policy.CodeInsufficientBalance {
			reason = v.Message
		}
	}
	return fmt.Sprintf("Not submitted. %s Ask the user whether they want to submit anyway as partially unpaid leave "+
		"for their manager to decide; only after they confirm, call submit_pto_request again with force=true.", reason)
}

func submittedMessage(sub *lifecycle.Submission, res *policy.PTOResult) string {
	switch sub.Status {
	case domain.StatusAutoApproved:
		msg := fmt.Sprintf("Approved automatically for %d business days.", res.BusinessDays)
		if sub.BalanceAfter != nil {
			msg += fmt.Sprintf(" Remaining balance: %.1f days.", *sub.BalanceAfter)
		}
		return msg
	case domain.StatusPending:
		return "Submitted and sent to the manager for approval: " + res.EscalationReason + "."
	default:
		return "The request was recorded as denied:\n" + policy.Explain(res.Violations)
	}
}
