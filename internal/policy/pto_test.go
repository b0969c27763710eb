package policy

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
)

func day(t testing.TB, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func junior() domain.Employee {
	return domain.Employee{ID: "emp-junior", Name: "Amani", Tier: domain.TierJunior, ManagerID: "mgr-1"}
}

func senior() domain.Employee {
	return domain.Employee{ID: "emp-senior", Name: "Baraka", Tier: domain.TierSenior, ManagerID: "mgr-1"}
}

func event(t testing.TB, kind domain.EventKind, name, start, end string) domain.CalendarEvent {
	return domain.CalendarEvent{ID: uuid.New(), Kind: kind, Name: name, Start: day(t, start), End: day(t, end)}
}

func TestBusinessDays(t *testing.T) {
	july4 := event(t, domain.EventHoliday, "Independence Day", "2025-07-04", "2025-07-04")
	blackout := event(t, domain.EventBlackout, "Quarter close", "2025-06-30", "2025-07-04")

	tests := []struct {
		name   string
		start  string
		end    string
		events []domain.CalendarEvent
		want   int
	}{
		{"single weekday", "2025-06-02", "2025-06-02", nil, 1},
		{"mon to wed", "2025-06-02", "2025-06-04", nil, 3},
		{"full week with weekend", "2025-06-02", "2025-06-08", nil, 5},
		{"weekend only", "2025-06-07", "2025-06-08", nil, 0},
		{"holiday excluded", "2025-06-30", "2025-07-04", []domain.CalendarEvent{july4}, 4},
		{"blackouts are not holidays", "2025-06-30", "2025-07-04", []domain.CalendarEvent{blackout}, 5},
		{"reversed range", "2025-06-04", "2025-06-02", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BusinessDays(day(t, tt.start), day(t, tt.end), tt.events)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatePTO_JuniorThreeDaysAutoApproves(t *testing.T) {
	res := EvaluatePTO(DefaultRules(), PTODraft{
		StartDate: day(t, "2025-06-02"),
		EndDate:   day(t, "2025-06-04"),
	}, PTOContext{Employee: junior(), Balance: 15, Today: day(t, "2025-05-01")})

	assert.Equal(t, 3, res.BusinessDays)
	assert.Empty(t, res.Violations)
	assert.Equal(t, AutoApprove, res.Recommendation)
	assert.True(t, res.CanAutoApprove)
	assert.False(t, res.RequiresEscalation)
}

func TestEvaluatePTO_SeniorTwelveDaysEscalates(t *testing.T) {
	res := EvaluatePTO(DefaultRules(), PTODraft{
		StartDate: day(t, "2025-06-02"),
		EndDate:   day(t, "2025-06-17"),
	}, PTOContext{Employee: senior(), Balance: 20, Today: day(t, "2025-05-01")})

	assert.Equal(t, 12, res.BusinessDays)
	assert.Empty(t, res.Violations)
	assert.Equal(t, EscalateToManager, res.Recommendation)
	assert.True(t, res.RequiresEscalation)
	assert.Contains(t, res.EscalationReason, "10-day")
}

func TestEvaluatePTO_BlackoutDeniesEveryTier(t *testing.T) {
	events := []domain.CalendarEvent{
		event(t, domain.EventBlackout, "Year-end freeze", "2025-12-15", "2025-12-31"),
		event(t, domain.EventBlackout, "Product launch", "2025-06-03", "2025-06-03"),
		event(t, domain.EventBlackout, "Audit week", "2025-06-02", "2025-06-06"),
	}
	for _, emp := range []domain.Employee{junior(), senior()} {
		res := EvaluatePTO(DefaultRules(), PTODraft{
			StartDate: day(t, "2025-06-03"),
			EndDate:   day(t, "2025-06-03"),
		}, PTOContext{Employee: emp, Balance: 15, Events: events, Today: day(t, "2025-05-01")})

		require.True(t, res.HasViolation(CodeBlackoutConflict), emp.Tier)
		assert.Equal(t, Deny, res.Recommendation)
		v := res.Violations[0]
		assert.Equal(t, "Audit week", v.Details["period"], "earliest conflicting period is reported")
	}
}

func TestEvaluatePTO_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name string
		emp  domain.Employee
		end  string
		want Recommendation
	}{
		{"junior at threshold", junior(), "2025-06-04", AutoApprove},
		{"junior above threshold", junior(), "2025-06-05", EscalateToManager},
		{"senior at threshold", senior(), "2025-06-13", AutoApprove},
		{"senior above threshold", senior(), "2025-06-16", EscalateToManager},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluatePTO(DefaultRules(), PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, tt.end)},
				PTOContext{Employee: tt.emp, Balance: 30, Today: day(t, "2025-05-01")})
			assert.Equal(t, tt.want, res.Recommendation)
		})
	}
}

func TestEvaluatePTO_InsufficientBalance_ConfirmMode(t *testing.T) {
	draft := PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-04")}
	pc := PTOContext{Employee: junior(), Balance: 2, Today: day(t, "2025-05-01")}

	t.Run("no force", func(t *testing.T) {
		res := EvaluatePTO(DefaultRules(), draft, pc)
		require.True(t, res.HasViolation(CodeInsufficientBalance))
		assert.True(t, res.Violations[0].Blocking)
		assert.Equal(t, Deny, res.Recommendation)
		assert.True(t, res.ConfirmationRequired)
		assert.False(t, res.Forced)
	})

	t.Run("force without confirmation", func(t *testing.T) {
		d := draft
		d.Force = true
		res := EvaluatePTO(DefaultRules(), d, pc)
		assert.Equal(t, Deny, res.Recommendation)
		assert.True(t, res.ConfirmationRequired)
	})

	t.Run("force with confirmation escalates", func(t *testing.T) {
		d := draft
		d.Force = true
		c := pc
		c.Confirmed = true
		res := EvaluatePTO(DefaultRules(), d, c)
		require.True(t, res.HasViolation(CodeInsufficientBalance))
		assert.True(t, res.Violations[0].Overridden)
		assert.False(t, res.Violations[0].Blocking)
		assert.Equal(t, EscalateToManager, res.Recommendation, "forced requests never auto-approve")
		assert.True(t, res.Forced)
		assert.False(t, res.ConfirmationRequired)
	})

	t.Run("confirmation without force", func(t *testing.T) {
		c := pc
		c.Confirmed = true
		res := EvaluatePTO(DefaultRules(), draft, c)
		assert.Equal(t, Deny, res.Recommendation)
	})
}

func TestEvaluatePTO_InsufficientBalance_AutoEscalateMode(t *testing.T) {
	rules := DefaultRules()
	rules.InsufficientBalanceMode = ModeAutoEscalate

	res := EvaluatePTO(rules, PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-04")},
		PTOContext{Employee: junior(), Balance: 1, Today: day(t, "2025-05-01")})

	assert.Equal(t, EscalateToManager, res.Recommendation)
	assert.False(t, res.ConfirmationRequired)
	assert.Contains(t, res.EscalationReason, "insufficient balance")
}

func TestEvaluatePTO_ReportsAllViolations(t *testing.T) {
	events := []domain.CalendarEvent{event(t, domain.EventBlackout, "Audit week", "2025-06-02", "2025-06-06")}
	res := EvaluatePTO(DefaultRules(), PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-04")},
		PTOContext{Employee: junior(), Balance: 1, Events: events, Today: day(t, "2025-06-03")})

	assert.ElementsMatch(t,
		[]Code{CodePastDate, CodeInsufficientBalance, CodeBlackoutConflict},
		Codes(res.Violations))
	assert.Equal(t, Deny, res.Recommendation)
	assert.False(t, res.ConfirmationRequired, "other blocking violations remain")
}

func TestEvaluatePTO_InvalidRangeAndWeekendOnly(t *testing.T) {
	res := EvaluatePTO(DefaultRules(), PTODraft{StartDate: day(t, "2025-06-04"), EndDate: day(t, "2025-06-02")},
		PTOContext{Employee: junior(), Balance: 10, Today: day(t, "2025-05-01")})
	assert.Equal(t, []Code{CodeInvalidDateRange}, Codes(res.Violations))
	assert.Equal(t, Deny, res.Recommendation)

	res = EvaluatePTO(DefaultRules(), PTODraft{StartDate: day(t, "2025-06-07"), EndDate: day(t, "2025-06-08")},
		PTOContext{Employee: junior(), Balance: 10, Today: day(t, "2025-05-01")})
	assert.Equal(t, []Code{CodeNoBusinessDays}, Codes(res.Violations))
	assert.Equal(t, Deny, res.Recommendation)
}

func TestEvaluatePTO_Deterministic(t *testing.T) {
	blackout := []domain.CalendarEvent{event(t, domain.EventBlackout, "Audit week", "2025-06-02", "2025-06-06")}
	holiday := []domain.CalendarEvent{event(t, domain.EventHoliday, "Madaraka Day", "2025-06-02", "2025-06-02")}

	tests := []struct {
		name  string
		draft PTODraft
		pc    PTOContext
	}{
		{
			name:  "clean junior request",
			draft: PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-04")},
			pc:    PTOContext{Employee: junior(), Balance: 15, Today: day(t, "2025-05-01")},
		},
		{
			name:  "senior over threshold",
			draft: PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-17")},
			pc:    PTOContext{Employee: senior(), Balance: 20, Events: holiday, Today: day(t, "2025-05-01")},
		},
		{
			name:  "blackout overlap",
			draft: PTODraft{StartDate: day(t, "2025-06-03"), EndDate: day(t, "2025-06-03")},
			pc:    PTOContext{Employee: senior(), Balance: 15, Events: blackout, Today: day(t, "2025-05-01")},
		},
		{
			name:  "insufficient balance",
			draft: PTODraft{StartDate: day(t, "2025-06-09"), EndDate: day(t, "2025-06-13")},
			pc:    PTOContext{Employee: junior(), Balance: 2, Today: day(t, "2025-05-01")},
		},
		{
			name:  "insufficient balance forced and confirmed",
			draft: PTODraft{StartDate: day(t, "2025-06-09"), EndDate: day(t, "2025-06-13"), Force: true},
			pc:    PTOContext{Employee: junior(), Balance: 2, Today: day(t, "2025-05-01"), Confirmed: true},
		},
		{
			name:  "every violation at once",
			draft: PTODraft{StartDate: day(t, "2025-06-02"), EndDate: day(t, "2025-06-04")},
			pc:    PTOContext{Employee: junior(), Balance: 1, Events: blackout, Today: day(t, "2025-06-03")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := EvaluatePTO(DefaultRules(), tt.draft, tt.pc)
			second := EvaluatePTO(DefaultRules(), tt.draft, tt.pc)
			assert.True(t, reflect.DeepEqual(first, second), "first=%+v second=%+v", first, second)
		})
	}
}

func TestExplain(t *testing.T) {
	assert.Equal(t, "No policy violations.", Explain(nil))
	out := Explain([]Violation{
		{Code: CodePastDate, Message: "Start date is in the past."},
		{Code: CodeInsufficientBalance, Message: "Insufficient PTO balance.", Overridden: true},
	})
	assert.Equal(t, "- Start date is in the past.\n- Insufficient PTO balance. (overridden after confirmation)", out)
}
