package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/storage"
	"github.com/jkaninda/ruhusa/internal/storage/sqlite"
)

type recordingNotifier struct {
	mu        sync.Mutex
	escalated []Notice
	decided   []Notice
}

func (n *recordingNotifier) Escalated(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalated = append(n.escalated, notice)
	return nil
}

func (n *recordingNotifier) Decided(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decided = append(n.decided, notice)
	return nil
}

type countingRecorder struct {
	submissions map[string]int
	resolutions map[string]int
}

func (r *countingRecorder) RecordSubmission(kind, status string) {
	r.submissions[kind+"/"+status]++
}

func (r *countingRecorder) RecordResolution(kind, status string) {
	r.resolutions[kind+"/"+status]++
}

type fixture struct {
	store    storage.Store
	manager  *Manager
	notifier *recordingNotifier
	recorder *countingRecorder
	junior   domain.Employee
	senior   domain.Employee
}

var testNow = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := sqlite.Open(sqlite.Config{Path: sqlite.MemoryPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	f := &fixture{
		store:    s,
		notifier: &recordingNotifier{},
		recorder: &countingRecorder{submissions: map[string]int{}, resolutions: map[string]int{}},
		junior:   domain.Employee{ID: "emp-1", Name: "Amani", Tier: domain.TierJunior, ManagerID: "mgr-1"},
		senior:   domain.Employee{ID: "mgr-1", Name: "Neema", Tier: domain.TierSenior},
	}
	require.NoError(t, s.Employees().Upsert(ctx, &f.senior))
	require.NoError(t, s.Employees().Upsert(ctx, &f.junior))
	require.NoError(t, s.Balances().Upsert(ctx, &domain.Balance{EmployeeID: "emp-1", Accrued: 10, Used: 5}))

	f.manager = New(s, logger,
		WithNotifier(f.notifier),
		WithRecorder(f.recorder),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func (f *fixture) pto(t *testing.T, start, end string, force, confirmed bool) PTOSubmission {
	t.Helper()
	ctx := context.Background()
	b, err := f.store.Balances().Get(ctx, f.junior.ID)
	require.NoError(t, err)
	draft := policy.PTODraft{StartDate: mustDate(t, start), EndDate: mustDate(t, end), Reason: "family", Force: force}
	res := policy.EvaluatePTO(policy.DefaultRules(), draft, policy.PTOContext{
		Employee:  f.junior,
		Balance:   b.Current,
		Confirmed: confirmed,
	})
	return PTOSubmission{
		Actor:    domain.Actor{ID: f.junior.ID, Kind: domain.ActorAgent},
		Employee: f.junior,
		Draft:    draft,
		Result:   &res,
	}
}

func (f *fixture) expense(t *testing.T, cents int64, category, desc string, receipt bool) ExpenseSubmission {
	t.Helper()
	draft := policy.ExpenseDraft{AmountCents: cents, Category: category, Description: desc, ExpenseDate: mustDate(t, "2025-05-19"), HasReceipt: receipt}
	res := policy.EvaluateExpense(policy.DefaultRules(), draft, policy.ExpenseContext{Employee: f.junior})
	return ExpenseSubmission{
		Actor:    domain.Actor{ID: f.junior.ID, Kind: domain.ActorAgent},
		Employee: f.junior,
		Draft:    draft,
		Result:   &res,
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func auditFor(t *testing.T, s storage.Store, id uuid.UUID) []domain.AuditRecord {
	t.Helper()
	recs, err := s.Audit().Query(context.Background(), storage.AuditFilter{EntityID: id.String()})
	require.NoError(t, err)
	return recs
}

func balance(t *testing.T, s storage.Store, id string) float64 {
	t.Helper()
	b, err := s.Balances().Get(context.Background(), id)
	require.NoError(t, err)
	return b.Current
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, domain.StatusAutoApproved, StatusFor(policy.AutoApprove))
	assert.Equal(t, domain.StatusPending, StatusFor(policy.EscalateToManager))
	assert.Equal(t, domain.StatusDenied, StatusFor(policy.Deny))
}

func TestSubmitPTO_AutoApprovedDebitsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Monday and Tuesday: two business days, within the junior threshold.
	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-03", false, false))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, sub.Status)
	require.NotNil(t, sub.BalanceAfter)
	assert.Equal(t, 3.0, *sub.BalanceAfter)
	assert.Equal(t, 3.0, balance(t, f.store, f.junior.ID))

	req, err := f.store.PTORequests().Get(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Days)
	assert.Equal(t, 5.0, req.BalanceBefore)
	assert.Equal(t, 3.0, req.BalanceAfter)
	assert.NotNil(t, req.DecidedAt)

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.ActionCreated, recs[0].Action)
	assert.Equal(t, audit.EntityPTORequest, recs[0].EntityType)
	assert.Equal(t, domain.ActorAgent, recs[0].ActorKind)

	var detail map[string]any
	require.NoError(t, json.Unmarshal(recs[0].Detail, &detail))
	assert.Equal(t, "auto", detail["approval_type"])
	assert.Equal(t, float64(2), detail["business_days"])
	assert.Equal(t, float64(3), detail["balance_after"])

	assert.Empty(t, f.notifier.escalated)
	assert.Equal(t, 1, f.recorder.submissions["pto/auto_approved"])
}

func TestSubmitPTO_EscalatesWithoutDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A full week exceeds the junior threshold of three days.
	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-06", false, false))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, sub.Status)
	assert.Nil(t, sub.BalanceAfter)
	assert.Equal(t, 5.0, balance(t, f.store, f.junior.ID))

	require.Len(t, f.notifier.escalated, 1)
	n := f.notifier.escalated[0]
	assert.Equal(t, "mgr-1", n.RecipientID)
	assert.Equal(t, sub.RequestID, n.RequestID)
	assert.Contains(t, n.Summary, "5 business days")

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 1)
}

func TestSubmitPTO_DenialIsPersistedAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// End before start.
	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-06", "2025-06-02", false, false))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, sub.Status)

	req, err := f.store.PTORequests().Get(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Contains(t, req.DecisionNotes, "before start date")

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 1)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(recs[0].Detail, &detail))
	assert.Equal(t, "policy_denied", detail["approval_type"])
	assert.Equal(t, 5.0, balance(t, f.store, f.junior.ID))
}

func TestSubmitPTO_BalanceGoneAtWriteTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.pto(t, "2025-06-02", "2025-06-03", false, false)
	require.Equal(t, policy.AutoApprove, s.Result.Recommendation)

	// Another request drains the balance between evaluation and submission.
	_, err := f.store.Balances().Debit(ctx, f.junior.ID, 4.5)
	require.NoError(t, err)

	_, err = f.manager.SubmitPTO(ctx, s)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	rows, err := f.store.PTORequests().List(ctx, storage.RequestFilter{EmployeeIDs: []string{f.junior.ID}})
	require.NoError(t, err)
	assert.Empty(t, rows)
	recs, err := f.store.Audit().Query(ctx, storage.AuditFilter{ActorID: f.junior.ID})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, domain.AuditRecord) error {
	return errors.New("audit unavailable")
}

func (failingAudit) Query(context.Context, storage.AuditFilter) ([]domain.AuditRecord, error) {
	return nil, nil
}

// failingAuditStore fails every audit append made inside a transaction.
type failingAuditStore struct {
	storage.Store
	inTx bool
}

func (s failingAuditStore) Audit() storage.AuditStore {
	if s.inTx {
		return failingAudit{}
	}
	return s.Store.Audit()
}

func (s failingAuditStore) WithinTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx storage.Store) error {
		return fn(failingAuditStore{Store: tx, inTx: true})
	})
}

func TestSubmitPTO_AuditFailureRollsBackDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := New(failingAuditStore{Store: f.store}, nil, WithClock(func() time.Time { return testNow }))

	_, err := m.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-03", false, false))
	require.Error(t, err)

	assert.Equal(t, 5.0, balance(t, f.store, f.junior.ID))
	rows, err := f.store.PTORequests().List(ctx, storage.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitExpense_Outcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		sub    ExpenseSubmission
		status domain.RequestStatus
	}{
		{"small meal auto-approves", f.expense(t, 42_50, "Meals", "team lunch", false), domain.StatusAutoApproved},
		{"over junior ceiling escalates", f.expense(t, 150_00, "travel", "train ticket", true), domain.StatusPending},
		{"missing receipt denies", f.expense(t, 90_00, "travel", "taxi", false), domain.StatusDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := f.manager.SubmitExpense(ctx, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.status, sub.Status)

			req, err := f.store.ExpenseRequests().Get(ctx, sub.RequestID)
			require.NoError(t, err)
			assert.Equal(t, tt.sub.Draft.AmountCents, req.AmountCents)
			assert.Equal(t, "USD", req.Currency)
			assert.Equal(t, tt.status.IsTerminal(), req.DecidedAt != nil)

			recs := auditFor(t, f.store, sub.RequestID)
			require.Len(t, recs, 1)
			assert.Equal(t, audit.ActionCreated, recs[0].Action)
		})
	}

	req, err := f.store.ExpenseRequests().List(ctx, storage.RequestFilter{Status: domain.StatusAutoApproved})
	require.NoError(t, err)
	require.Len(t, req, 1)
	assert.Equal(t, "meals", req[0].Category)
	assert.Len(t, f.notifier.escalated, 1)
}

func TestDecide_ApprovePTO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-06", false, false))
	require.NoError(t, err)

	out, err := f.manager.Decide(ctx, Decision{Kind: domain.KindPTO, RequestID: sub.RequestID, ApproverID: "mgr-1", Approve: true, Notes: "enjoy"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, out.Status)
	require.NotNil(t, out.BalanceAfter)
	assert.Equal(t, 0.0, *out.BalanceAfter)
	assert.Equal(t, 0.0, out.UnpaidDays)

	req, err := f.store.PTORequests().Get(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)
	assert.Equal(t, "mgr-1", req.ApproverID)
	assert.Equal(t, "enjoy", req.DecisionNotes)

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ActionApproved, recs[1].Action)
	assert.Equal(t, "mgr-1", recs[1].ActorID)
	assert.Equal(t, domain.ActorHuman, recs[1].ActorKind)

	require.Len(t, f.notifier.decided, 1)
	assert.Equal(t, "emp-1", f.notifier.decided[0].RecipientID)
	assert.Equal(t, 1, f.recorder.resolutions["pto/approved"])

	// A second decision loses.
	_, err = f.manager.Decide(ctx, Decision{Kind: domain.KindPTO, RequestID: sub.RequestID, ApproverID: "mgr-1"})
	require.ErrorIs(t, err, ErrTerminal)
}

func TestDecide_ForcedPTODebitsOnlyAvailableDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Balances().Upsert(ctx, &domain.Balance{EmployeeID: "emp-1", Accrued: 2}))

	s := f.pto(t, "2025-06-02", "2025-06-04", true, true)
	require.True(t, s.Result.Forced)
	sub, err := f.manager.SubmitPTO(ctx, s)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, sub.Status)

	out, err := f.manager.Decide(ctx, Decision{Kind: domain.KindPTO, RequestID: sub.RequestID, ApproverID: "mgr-1", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.UnpaidDays)
	assert.Equal(t, 0.0, balance(t, f.store, f.junior.ID))
}

func TestDecide_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.SubmitExpense(ctx, f.expense(t, 150_00, "travel", "train", true))
	require.NoError(t, err)

	for _, approver := range []string{"", "emp-1", "someone-else"} {
		_, err = f.manager.Decide(ctx, Decision{Kind: domain.KindExpense, RequestID: sub.RequestID, ApproverID: approver, Approve: true})
		require.ErrorIs(t, err, domain.ErrForbidden, approver)
	}

	_, err = f.manager.Decide(ctx, Decision{Kind: domain.KindExpense, RequestID: uuid.New(), ApproverID: "mgr-1"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	out, err := f.manager.Decide(ctx, Decision{Kind: domain.KindExpense, RequestID: sub.RequestID, ApproverID: "mgr-1", Notes: "no receipt copy"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, out.Status)
	assert.Nil(t, out.BalanceAfter)
}

func TestDecide_AutoApprovedIsNotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.SubmitExpense(ctx, f.expense(t, 20_00, "meals", "coffee", false))
	require.NoError(t, err)

	_, err = f.manager.Decide(ctx, Decision{Kind: domain.KindExpense, RequestID: sub.RequestID, ApproverID: "mgr-1", Approve: true})
	require.ErrorIs(t, err, ErrNotPending)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := domain.Actor{ID: "emp-1", Kind: domain.ActorAgent}

	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-06", false, false))
	require.NoError(t, err)

	_, err = f.manager.Cancel(ctx, domain.Actor{ID: "mgr-1", Kind: domain.ActorHuman}, domain.KindPTO, sub.RequestID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	out, err := f.manager.Cancel(ctx, actor, domain.KindPTO, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, out.Status)

	_, err = f.manager.Cancel(ctx, actor, domain.KindPTO, sub.RequestID)
	require.ErrorIs(t, err, ErrTerminal)

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ActionCancelled, recs[1].Action)
	assert.Equal(t, 5.0, balance(t, f.store, f.junior.ID))
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clock := testNow
	f.manager.clock = func() time.Time { return clock }

	pto, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-06", false, false))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	exp, err := f.manager.SubmitExpense(ctx, f.expense(t, 150_00, "travel", "train", true))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = f.manager.SubmitExpense(ctx, f.expense(t, 10_00, "meals", "snack", false))
	require.NoError(t, err)

	mine, err := f.manager.ListMine(ctx, "emp-1", Query{})
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, domain.StatusAutoApproved, mine[0].Status)
	assert.Equal(t, exp.RequestID, mine[1].ID)
	assert.Equal(t, pto.RequestID, mine[2].ID)

	onlyPTO, err := f.manager.ListMine(ctx, "emp-1", Query{Kind: domain.KindPTO})
	require.NoError(t, err)
	assert.Len(t, onlyPTO, 1)

	pending, err := f.manager.ListPendingForManager(ctx, "mgr-1", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	none, err := f.manager.ListPendingForManager(ctx, "emp-1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemindStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.SubmitPTO(ctx, f.pto(t, "2025-06-02", "2025-06-06", false, false))
	require.NoError(t, err)
	f.notifier.escalated = nil

	n, err := f.manager.RemindStale(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.manager.clock = func() time.Time { return testNow.Add(72 * time.Hour) }
	n, err = f.manager.RemindStale(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.notifier.escalated, 1)
	assert.True(t, f.notifier.escalated[0].Reminder)
	assert.Equal(t, "mgr-1", f.notifier.escalated[0].RecipientID)

	recs := auditFor(t, f.store, sub.RequestID)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ActionReminded, recs[1].Action)
	assert.Equal(t, domain.ActorSystem, recs[1].ActorKind)
}
