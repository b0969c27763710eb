// Package expense implements the reimbursement tools. Amounts arrive in
// dollars and are converted to cents before the policy engine sees them.
package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/receipt"
	"github.com/jkaninda/ruhusa/internal/tools"
)

type draftParams struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	ExpenseDate string  `json:"expense_date"`
	ReceiptID   string  `json:"receipt_id"`
}

func draftSchema(categories []string) map[string]any {
	category := tools.String("Expense category")
	if len(categories) > 0 {
		category = tools.String("Expense category, one of: " + strings.Join(categories, ", "))
	}
	return tools.Object(map[string]any{
		"amount":       tools.Number("Amount in dollars, e.g. 42.50"),
		"currency":     tools.String("ISO currency code (default USD)"),
		"category":     category,
		"description":  tools.String("What was purchased"),
		"expense_date": tools.Date("Date of the expense"),
		"receipt_id":   tools.String("Id of a receipt the user uploaded, if any"),
	}, "amount", "category", "description", "expense_date")
}

// drafter turns arguments into a policy draft, resolving the receipt.
type drafter struct {
	receipts *receipt.Service
}

// draft returns a failed observation for a bad date or malformed receipt id,
// and an error when the receipt is missing or owned by someone else.
func (d drafter) draft(ctx context.Context, inv tools.Invocation, params map[string]any) (policy.ExpenseDraft, *uuid.UUID, *tools.Result, error) {
	var p draftParams
	if err := tools.DecodeParams(params, &p); err != nil {
		return policy.ExpenseDraft{}, nil, tools.Fail(err.Error(), nil), nil
	}
	date, err := domain.ParseDate(p.ExpenseDate)
	if err != nil {
		return policy.ExpenseDraft{}, nil, tools.Fail(err.Error(), nil), nil
	}
	draft := policy.ExpenseDraft{
		AmountCents: domain.DollarsToCents(p.Amount),
		Currency:    p.Currency,
		Category:    p.Category,
		Description: p.Description,
		ExpenseDate: date,
	}

	var receiptID *uuid.UUID
	if strings.TrimSpace(p.ReceiptID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(p.ReceiptID))
		if err != nil {
			return policy.ExpenseDraft{}, nil, tools.Fail(fmt.Sprintf("receipt_id %q is not a valid id", p.ReceiptID), nil), nil
		}
		if d.receipts == nil {
			return policy.ExpenseDraft{}, nil, nil, &domain.NotFoundError{Entity: "receipt", ID: id.String()}
		}
		if _, err := d.receipts.Get(ctx, inv.UserID, id); err != nil {
			return policy.ExpenseDraft{}, nil, nil, err
		}
		receiptID = &id
		draft.HasReceipt = true
	}
	return draft, receiptID, nil, nil
}

// ValidateTool implements validate_expense. It never writes.
type ValidateTool struct {
	drafter
	engine *policy.Engine
	logger *slog.Logger
}

// NewValidateTool creates a validate_expense tool.
func NewValidateTool(engine *policy.Engine, receipts *receipt.Service, logger *slog.Logger) *ValidateTool {
	return &ValidateTool{drafter: drafter{receipts: receipts}, engine: engine, logger: logger}
}

func (t *ValidateTool) Name() string { return "validate_expense" }
func (t *ValidateTool) Description() string {
	return "Check an expense against the reimbursement policy without submitting it. " +
		"Returns every violation and the recommendation (AUTO_APPROVE, ESCALATE_TO_MANAGER or DENY)."
}
func (t *ValidateTool) InputSchema() map[string]any {
	return draftSchema(t.engine.Rules().Categories)
}
func (t *ValidateTool) SideEffect() bool { return false }

func (t *ValidateTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	draft, _, bad, err := t.draft(ctx, inv, params)
	if err != nil {
		return nil, err
	}
	if bad != nil {
		return bad, nil
	}
	res, _, err := t.engine.ValidateExpense(ctx, inv.UserID, draft)
	if err != nil {
		return nil, err
	}
	return tools.OK(describe(res), res), nil
}

// SubmitTool implements submit_expense.
type SubmitTool struct {
	drafter
	engine    *policy.Engine
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
}

// NewSubmitTool creates a submit_expense tool.
func NewSubmitTool(engine *policy.Engine, manager *lifecycle.Manager, receipts *receipt.Service, logger *slog.Logger) *SubmitTool {
	return &SubmitTool{drafter: drafter{receipts: receipts}, engine: engine, lifecycle: manager, logger: logger}
}

func (t *SubmitTool) Name() string { return "submit_expense" }
func (t *SubmitTool) Description() string {
	return "Submit an expense for reimbursement. Expenses within the tier ceiling are approved immediately, " +
		"larger ones go to the manager, and expenses violating policy are recorded as denied. " +
		"Attach receipt_id for amounts over $75."
}
func (t *SubmitTool) InputSchema() map[string]any {
	return draftSchema(t.engine.Rules().Categories)
}
func (t *SubmitTool) SideEffect() bool { return true }

func (t *SubmitTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	draft, receiptID, bad, err := t.draft(ctx, inv, params)
	if err != nil {
		return nil, err
	}
	if bad != nil {
		return bad, nil
	}
	res, emp, err := t.engine.ValidateExpense(ctx, inv.UserID, draft)
	if err != nil {
		return nil, err
	}

	sub, err := t.lifecycle.SubmitExpense(ctx, lifecycle.ExpenseSubmission{
		Actor:     inv.Actor(),
		Employee:  *emp,
		Draft:     draft,
		ReceiptID: receiptID,
		Result:    res,
	})
	if err != nil {
		return nil, err
	}

	return tools.OK(submittedMessage(sub, res), map[string]any{
		"request_id": sub.RequestID.String(),
		"status":     sub.Status,
		"evaluation": res,
	}), nil
}

func describe(res *policy.ExpenseResult) string {
	amount := domain.FormatCents(res.AmountCents)
	switch res.Recommendation {
	case policy.AutoApprove:
		return fmt.Sprintf("%s is within policy and would be approved automatically.", amount)
	case policy.EscalateToManager:
		return fmt.Sprintf("%s would be sent to the manager: %s.", amount, res.EscalationReason)
	default:
		return fmt.Sprintf("%s would be denied:\n%s", amount, policy.Explain(res.Violations))
	}
}

func submittedMessage(sub *lifecycle.Submission, res *policy.ExpenseResult) string {
	amount := domain.FormatCents(res.AmountCents)
	switch sub.Status {
	case domain.StatusAutoApproved:
		return fmt.Sprintf("Expense of %s approved automatically.", amount)
	case domain.StatusPending:
		return fmt.Sprintf("Expense of %s submitted and sent to the manager: %s.", amount, res.EscalationReason)
	default:
		return fmt.Sprintf("Expense of %s was recorded as denied:\n%s", amount, policy.Explain(res.Violations))
	}
}

// ExtractTool implements extract_receipt.
type ExtractTool struct {
	receipts *receipt.Service
	logger   *slog.Logger
}

// NewExtractTool creates an extract_receipt tool.
func NewExtractTool(receipts *receipt.Service, logger *slog.Logger) *ExtractTool {
	return &ExtractTool{receipts: receipts, logger: logger}
}

func (t *ExtractTool) Name() string { return "extract_receipt" }
func (t *ExtractTool) Description() string {
	return "Read the amount, date and merchant from a receipt the user uploaded. " +
		"Confirm the values with the user before submitting an expense from them."
}
func (t *ExtractTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{
		"receipt_id": tools.String("Id of the uploaded receipt"),
	}, "receipt_id")
}
func (t *ExtractTool) SideEffect() bool { return true }

func (t *ExtractTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	raw, _ := params["receipt_id"].(string)
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return tools.Fail(fmt.Sprintf("receipt_id %q is not a valid id", raw), nil), nil
	}

	data, err := t.receipts.Extract(ctx, inv.Actor(), id)
	if errors.Is(err, receipt.ErrUnreadable) {
		return tools.Fail("The receipt could not be read. Ask the user to upload a clearer image "+
			"or to state the amount, date and merchant themselves.", map[string]any{
			"resubmit": true,
		}), nil
	}
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"receipt_id": id.String(),
		"amount":     float64(data.AmountCents) / 100,
		"currency":   data.Currency,
		"merchant":   data.Merchant,
	}
	if !data.Date.IsZero() {
		out["date"] = domain.FormatDate(data.Date)
	}
	if len(data.LineItems) > 0 {
		items := make([]map[string]any, len(data.LineItems))
		for i, li := range data.LineItems {
			items[i] = map[string]any{"description": li.Description, "amount": float64(li.AmountCents) / 100}
		}
		out["line_items"] = items
	}
	return tools.OK(fmt.Sprintf("Receipt from %s for %s.", orUnknown(data.Merchant), domain.FormatCents(data.AmountCents)), out), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "an unknown merchant"
	}
	return s
}
