// Package account implements the caller-scoped lookup tools (profile,
// calendar, request history, handbook) and request cancellation.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/handbook"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/storage"
	"github.com/jkaninda/ruhusa/internal/tools"
)

// ProfileTool implements get_my_profile.
type ProfileTool struct {
	employees storage.EmployeeStore
	engine    *policy.Engine
}

// NewProfileTool creates a get_my_profile tool.
func NewProfileTool(employees storage.EmployeeStore, engine *policy.Engine) *ProfileTool {
	return &ProfileTool{employees: employees, engine: engine}
}

func (t *ProfileTool) Name() string { return "get_my_profile" }
func (t *ProfileTool) Description() string {
	return "Return the caller's employee profile: name, tier, manager, department and the approval limits that apply to them."
}
func (t *ProfileTool) InputSchema() map[string]any { return tools.Object(nil) }
func (t *ProfileTool) SideEffect() bool            { return false }

func (t *ProfileTool) Execute(ctx context.Context, inv tools.Invocation, _ map[string]any) (*tools.Result, error) {
	emp, err := t.employees.Get(ctx, inv.UserID)
	if err != nil {
		return nil, err
	}
	rules := t.engine.Rules()
	out := map[string]any{
		"employee_id":                emp.ID,
		"name":                       emp.Name,
		"email":                      emp.Email,
		"tier":                       emp.Tier,
		"department":                 emp.Department,
		"pto_auto_approve_days":      rules.PTOThreshold(emp.Tier),
		"expense_auto_approve_limit": domain.FormatCents(rules.ExpenseCeiling(emp.Tier)),
		"receipt_required_above":     domain.FormatCents(rules.ReceiptThresholdCents),
		"has_manager":                emp.HasManager(),
		"today":                      domain.FormatDate(t.engine.Today()),
	}
	if emp.HasManager() {
		out["manager_id"] = emp.ManagerID
		if mgr, err := t.employees.Get(ctx, emp.ManagerID); err == nil {
			out["manager_name"] = mgr.Name
		}
	}
	if !emp.HireDate.IsZero() {
		out["hire_date"] = domain.FormatDate(emp.HireDate)
	}
	return tools.OK(fmt.Sprintf("%s (%s tier).", emp.Name, emp.Tier), out), nil
}

// defaultCalendarWindow is used when the caller gives no end date.
const defaultCalendarWindow = 90 * 24 * time.Hour

// CalendarTool implements list_calendar_events.
type CalendarTool struct {
	calendar storage.CalendarStore
	engine   *policy.Engine
}

// NewCalendarTool creates a list_calendar_events tool.
func NewCalendarTool(calendar storage.CalendarStore, engine *policy.Engine) *CalendarTool {
	return &CalendarTool{calendar: calendar, engine: engine}
}

func (t *CalendarTool) Name() string { return "list_calendar_events" }
func (t *CalendarTool) Description() string {
	return "List company holidays and blackout periods in a date range (default: today through the next 90 days)."
}
func (t *CalendarTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{
		"start_date": tools.Date("Start of the range"),
		"end_date":   tools.Date("End of the range, inclusive"),
		"kind":       tools.Enum("Only this kind of event", string(domain.EventHoliday), string(domain.EventBlackout)),
	})
}
func (t *CalendarTool) SideEffect() bool { return false }

func (t *CalendarTool) Execute(ctx context.Context, _ tools.Invocation, params map[string]any) (*tools.Result, error) {
	var p struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Kind      string `json:"kind"`
	}
	if err := tools.DecodeParams(params, &p); err != nil {
		return tools.Fail(err.Error(), nil), nil
	}

	start := t.engine.Today()
	if p.StartDate != "" {
		d, err := domain.ParseDate(p.StartDate)
		if err != nil {
			return tools.Fail(err.Error(), nil), nil
		}
		start = d
	}
	end := start.Add(defaultCalendarWindow)
	if p.EndDate != "" {
		d, err := domain.ParseDate(p.EndDate)
		if err != nil {
			return tools.Fail(err.Error(), nil), nil
		}
		end = d
	}
	if end.Before(start) {
		return tools.Fail("end_date is before start_date", nil), nil
	}

	events, err := t.calendar.ListBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		if p.Kind != "" && string(ev.Kind) != p.Kind {
			continue
		}
		out = append(out, map[string]any{
			"name":  ev.Name,
			"kind":  ev.Kind,
			"start": domain.FormatDate(ev.Start),
			"end":   domain.FormatDate(ev.End),
		})
	}
	return tools.OK(fmt.Sprintf("%d events between %s and %s.", len(out), domain.FormatDate(start), domain.FormatDate(end)), out), nil
}

// kindSchema accepts the two request kinds.
func kindSchema(desc string) map[string]any {
	return tools.Enum(desc, string(domain.KindPTO), string(domain.KindExpense))
}

// ListTool implements list_my_requests.
type ListTool struct {
	lifecycle *lifecycle.Manager
}

// NewListTool creates a list_my_requests tool.
func NewListTool(manager *lifecycle.Manager) *ListTool {
	return &ListTool{lifecycle: manager}
}

func (t *ListTool) Name() string { return "list_my_requests" }
func (t *ListTool) Description() string {
	return "List the caller's PTO and expense requests, newest first, optionally filtered by kind and status."
}
func (t *ListTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{
		"kind": kindSchema("Only this kind of request"),
		"status": tools.Enum("Only requests in this status",
			string(domain.StatusPending), string(domain.StatusAutoApproved), string(domain.StatusApproved),
			string(domain.StatusDenied), string(domain.StatusCancelled)),
		"limit": tools.Integer("Maximum number of requests", 1, 100),
	})
}
func (t *ListTool) SideEffect() bool { return false }

func (t *ListTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	var p struct {
		Kind   string `json:"kind"`
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := tools.DecodeParams(params, &p); err != nil {
		return tools.Fail(err.Error(), nil), nil
	}
	q := lifecycle.Query{Kind: domain.RequestKind(p.Kind), Status: domain.RequestStatus(p.Status), Limit: p.Limit}
	rows, err := t.lifecycle.ListMine(ctx, inv.UserID, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return tools.OK("No matching requests.", rows), nil
	}
	return tools.OK(fmt.Sprintf("%d requests.", len(rows)), rows), nil
}

// CancelTool implements cancel_request.
type CancelTool struct {
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
}

// NewCancelTool creates a cancel_request tool.
func NewCancelTool(manager *lifecycle.Manager, logger *slog.Logger) *CancelTool {
	return &CancelTool{lifecycle: manager, logger: logger}
}

func (t *CancelTool) Name() string { return "cancel_request" }
func (t *CancelTool) Description() string {
	return "Cancel one of the caller's requests that is still pending manager approval."
}
func (t *CancelTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{
		"kind":       kindSchema("Kind of request"),
		"request_id": tools.String("Id of the request to cancel"),
	}, "kind", "request_id")
}
func (t *CancelTool) SideEffect() bool { return true }

func (t *CancelTool) Execute(ctx context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	kindRaw, _ := params["kind"].(string)
	kind, _ := domain.ParseRequestKind(kindRaw)
	raw, _ := params["request_id"].(string)
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return tools.Fail(fmt.Sprintf("request_id %q is not a valid id", raw), nil), nil
	}

	out, err := t.lifecycle.Cancel(ctx, inv.Actor(), kind, id)
	switch {
	case errors.Is(err, lifecycle.ErrTerminal), errors.Is(err, lifecycle.ErrNotPending):
		return tools.Fail("Only requests still awaiting a manager decision can be cancelled.", nil), nil
	case err != nil:
		return nil, err
	}
	return tools.OK(fmt.Sprintf("The %s request was cancelled.", kind), out), nil
}

// HandbookTool implements search_handbook.
type HandbookTool struct {
	index *handbook.Index
}

// NewHandbookTool creates a search_handbook tool.
func NewHandbookTool(index *handbook.Index) *HandbookTool {
	return &HandbookTool{index: index}
}

func (t *HandbookTool) Name() string { return "search_handbook" }
func (t *HandbookTool) Description() string {
	return "Answer a question from the employee handbook. Use it for policy explanations, never for numeric decisions."
}
func (t *HandbookTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{
		"query": tools.String("The question to look up"),
	}, "query")
}
func (t *HandbookTool) SideEffect() bool { return false }

func (t *HandbookTool) Execute(ctx context.Context, _ tools.Invocation, params map[string]any) (*tools.Result, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tools.Fail("query is empty", nil), nil
	}
	answer, err := t.index.Ask(ctx, query)
	if err != nil {
		return nil, err
	}
	var sections []string
	for _, m := range t.index.Search(query, 2) {
		sections = append(sections, m.Section.Heading)
	}
	return tools.OK(answer, map[string]any{
		"sections": sections,
		"version":  t.index.Meta().Version,
	}), nil
}
