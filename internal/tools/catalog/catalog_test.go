package catalog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/handbook"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/receipt"
	"github.com/jkaninda/ruhusa/internal/storage"
	"github.com/jkaninda/ruhusa/internal/storage/sqlite"
	"github.com/jkaninda/ruhusa/internal/tools"
)

var testNow = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

type memorySink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (m *memorySink) Append(_ context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Action
	}
	return out
}

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, []byte, string) (*domain.ReceiptData, error) {
	return &domain.ReceiptData{AmountCents: 8420, Currency: "USD", Merchant: "Grand Hotel"}, nil
}

type fixture struct {
	store      storage.Store
	dispatcher *tools.Dispatcher
	receipts   *receipt.Service
	sink       *memorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := sqlite.Open(sqlite.Config{Path: sqlite.MemoryPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Employees().Upsert(ctx, &domain.Employee{ID: "mgr-1", Name: "Neema", Tier: domain.TierSenior}))
	require.NoError(t, s.Employees().Upsert(ctx, &domain.Employee{ID: "emp-1", Name: "Amani", Tier: domain.TierJunior, ManagerID: "mgr-1"}))
	require.NoError(t, s.Employees().Upsert(ctx, &domain.Employee{ID: "emp-2", Name: "Baraka", Tier: domain.TierJunior, ManagerID: "mgr-1"}))
	require.NoError(t, s.Balances().Upsert(ctx, &domain.Balance{EmployeeID: "emp-1", Accrued: 10, Used: 5}))
	require.NoError(t, s.Calendar().Upsert(ctx, &domain.CalendarEvent{
		Kind: domain.EventBlackout, Name: "Quarter close",
		Start: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Calendar().Upsert(ctx, &domain.CalendarEvent{
		Kind: domain.EventHoliday, Name: "Independence Day",
		Start: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC),
	}))

	clock := func() time.Time { return testNow }
	engine := policy.NewEngine(policy.DefaultRules(), policy.Deps{
		Employees: s.Employees(),
		Balances:  s.Balances(),
		Calendar:  s.Calendar(),
		Expenses:  s.ExpenseRequests(),
		Clock:     clock,
	}, logger)
	manager := lifecycle.New(s, logger, lifecycle.WithClock(clock))
	receipts := receipt.NewService(s, stubExtractor{}, receipt.Config{Dir: t.TempDir()}, nil, logger)

	reg, err := NewRegistry(Deps{
		Store:     s,
		Engine:    engine,
		Lifecycle: manager,
		Receipts:  receipts,
		Handbook:  handbook.Default(),
		Logger:    logger,
	})
	require.NoError(t, err)

	sink := &memorySink{}
	return &fixture{
		store:      s,
		dispatcher: tools.NewDispatcher(reg, logger, tools.WithAudit(sink)),
		receipts:   receipts,
		sink:       sink,
	}
}

func (f *fixture) call(t *testing.T, inv tools.Invocation, name string, params map[string]any) *tools.Result {
	t.Helper()
	res, err := f.dispatcher.Dispatch(context.Background(), inv, name, params)
	require.NoError(t, err)
	return res
}

func (f *fixture) mine(t *testing.T, employeeID string) []domain.PTORequest {
	t.Helper()
	rows, err := f.store.PTORequests().List(context.Background(), storage.RequestFilter{EmployeeIDs: []string{employeeID}})
	require.NoError(t, err)
	return rows
}

var emp1 = tools.Invocation{UserID: "emp-1"}

func TestCatalog_Names(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"cancel_request",
		"check_pto_balance",
		"extract_receipt",
		"get_my_profile",
		"list_calendar_events",
		"list_my_requests",
		"search_handbook",
		"submit_expense",
		"submit_pto_request",
		"validate_expense",
		"validate_pto_request",
	}, f.dispatcher.Registry().Names())
}

func TestSubmitPTO_AutoApproved(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, emp1, "submit_pto_request", map[string]any{"start_date": "2025-06-02", "end_date": "2025-06-03"})
	require.True(t, res.Success, res.Message)
	data := res.Data.(map[string]any)
	assert.Equal(t, domain.StatusAutoApproved, data["status"])
	require.NotNil(t, data["balance_after"])
	assert.Equal(t, 3.0, *data["balance_after"].(*float64))

	bal := f.call(t, emp1, "check_pto_balance", nil)
	assert.Equal(t, 3.0, bal.Data.(map[string]any)["current_balance"])

	assert.Equal(t, []string{"tool.submit_pto_request"}, f.sink.actions())
}

func TestSubmitPTO_InsufficientBalanceNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	params := map[string]any{"start_date": "2025-06-02", "end_date": "2025-06-13", "reason": "travel"}

	res := f.call(t, emp1, "submit_pto_request", params)
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Data.(map[string]any)["confirmation_required"])
	assert.Empty(t, f.mine(t, "emp-1"), "nothing is written before confirmation")

	// force without the conversation's confirmation is not enough.
	params["force"] = true
	res = f.call(t, emp1, "submit_pto_request", params)
	assert.False(t, res.Success)
	assert.Empty(t, f.mine(t, "emp-1"))

	confirmed := emp1
	confirmed.Confirmed = true
	res = f.call(t, confirmed, "submit_pto_request", params)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, domain.StatusPending, res.Data.(map[string]any)["status"])

	rows := f.mine(t, "emp-1")
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Forced)
	assert.Equal(t, 10, rows[0].Days)
}

func TestSubmitPTO_BlackoutIsDeniedAndRecorded(t *testing.T) {
	f := newFixture(t)

	v := f.call(t, emp1, "validate_pto_request", map[string]any{"start_date": "2025-06-30", "end_date": "2025-07-01"})
	require.True(t, v.Success)
	eval := v.Data.(*policy.PTOResult)
	assert.Equal(t, policy.Deny, eval.Recommendation)
	assert.True(t, eval.HasViolation(policy.CodeBlackoutConflict))
	assert.Empty(t, f.mine(t, "emp-1"), "validation never writes")

	res := f.call(t, emp1, "submit_pto_request", map[string]any{"start_date": "2025-06-30", "end_date": "2025-07-01"})
	require.True(t, res.Success)
	assert.Equal(t, domain.StatusDenied, res.Data.(map[string]any)["status"])
	assert.Contains(t, res.Message, "Quarter close")

	rows := f.mine(t, "emp-1")
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusDenied, rows[0].Status)
}

func TestSubmitPTO_ImpossibleDateIsAnObservation(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, emp1, "submit_pto_request", map[string]any{"start_date": "2025-02-30", "end_date": "2025-03-02"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid date")
}

func TestSubmitExpense_Outcomes(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, emp1, "submit_expense", map[string]any{
		"amount": 42.5, "category": "meals", "description": "client lunch", "expense_date": "2025-05-19",
	})
	require.True(t, res.Success)
	assert.Equal(t, domain.StatusAutoApproved, res.Data.(map[string]any)["status"])

	res = f.call(t, emp1, "submit_expense", map[string]any{
		"amount": 90, "category": "travel", "description": "train ticket", "expense_date": "2025-05-19",
	})
	assert.Equal(t, domain.StatusDenied, res.Data.(map[string]any)["status"], "missing receipt above $75")
	assert.Contains(t, res.Message, "receipt")

	rc, err := f.receipts.Upload(context.Background(), domain.Actor{ID: "emp-1", Kind: domain.ActorHuman}, "hotel.jpg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)

	res = f.call(t, emp1, "submit_expense", map[string]any{
		"amount": 120, "category": "lodging", "description": "hotel night", "expense_date": "2025-05-19",
		"receipt_id": rc.ID.String(),
	})
	require.True(t, res.Success)
	assert.Equal(t, domain.StatusPending, res.Data.(map[string]any)["status"], "above the junior ceiling")

	rows, err := f.store.ExpenseRequests().List(context.Background(), storage.RequestFilter{EmployeeIDs: []string{"emp-1"}})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReceipts_OwnershipAndExtraction(t *testing.T) {
	f := newFixture(t)
	rc, err := f.receipts.Upload(context.Background(), domain.Actor{ID: "emp-1", Kind: domain.ActorHuman}, "hotel.jpg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)

	res := f.call(t, emp1, "extract_receipt", map[string]any{"receipt_id": rc.ID.String()})
	require.True(t, res.Success)
	assert.Equal(t, 84.2, res.Data.(map[string]any)["amount"])

	_, err = f.dispatcher.Dispatch(context.Background(), tools.Invocation{UserID: "emp-2"}, "extract_receipt", map[string]any{"receipt_id": rc.ID.String()})
	var te *tools.ToolExecutionError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.dispatcher.Dispatch(context.Background(), tools.Invocation{UserID: "emp-2"}, "validate_expense", map[string]any{
		"amount": 80, "category": "lodging", "description": "hotel", "expense_date": "2025-05-19", "receipt_id": rc.ID.String(),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	confirmed := tools.Invocation{UserID: "emp-1", Confirmed: true}
	res := f.call(t, confirmed, "submit_pto_request", map[string]any{"start_date": "2025-06-02", "end_date": "2025-06-06"})
	require.True(t, res.Success)
	id := res.Data.(map[string]any)["request_id"].(string)

	_, err := f.dispatcher.Dispatch(context.Background(), tools.Invocation{UserID: "emp-2"}, "cancel_request", map[string]any{"kind": "pto", "request_id": id})
	require.ErrorIs(t, err, domain.ErrForbidden)

	res = f.call(t, emp1, "cancel_request", map[string]any{"kind": "pto", "request_id": id})
	require.True(t, res.Success, res.Message)

	res = f.call(t, emp1, "cancel_request", map[string]any{"kind": "pto", "request_id": id})
	assert.False(t, res.Success)

	list := f.call(t, emp1, "list_my_requests", map[string]any{"status": "cancelled"})
	rows := list.Data.([]lifecycle.Summary)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID.String())
}

func TestLookups(t *testing.T) {
	f := newFixture(t)

	profile := f.call(t, emp1, "get_my_profile", nil)
	p := profile.Data.(map[string]any)
	assert.Equal(t, "Neema", p["manager_name"])
	assert.Equal(t, 3, p["pto_auto_approve_days"])
	assert.Equal(t, "$100.00", p["expense_auto_approve_limit"])

	cal := f.call(t, emp1, "list_calendar_events", nil)
	assert.Len(t, cal.Data.([]map[string]any), 2)

	blackouts := f.call(t, emp1, "list_calendar_events", map[string]any{"kind": "blackout"})
	events := blackouts.Data.([]map[string]any)
	require.Len(t, events, 1)
	assert.Equal(t, "Quarter close", events[0]["name"])

	hb := f.call(t, emp1, "search_handbook", map[string]any{"query": "when do I need a receipt"})
	require.True(t, hb.Success)
	assert.Contains(t, strings.ToLower(hb.Message), "receipt")

	assert.Empty(t, f.sink.records, "lookups are not audited")
}

func TestIdentityComesFromInvocation(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Dispatch(context.Background(), emp1, "check_pto_balance", map[string]any{"employee_id": "mgr-1"})
	var pe *tools.ParamError
	require.ErrorAs(t, err, &pe)
}
