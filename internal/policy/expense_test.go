package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
)

func TestEvaluateExpense_MissingReceiptOverThresholdDenies(t *testing.T) {
	res := EvaluateExpense(DefaultRules(), ExpenseDraft{
		AmountCents: 150_00,
		Currency:    "USD",
		Category:    "meals",
		Description: "Team lunch with client",
		ExpenseDate: day(t, "2025-05-01"),
	}, ExpenseContext{Employee: junior(), Today: day(t, "2025-05-02")})

	require.True(t, res.HasViolation(CodeMissingReceipt))
	assert.Equal(t, Deny, res.Recommendation, "denial-class beats the escalation ceiling")
	assert.False(t, res.CanAutoApprove)
	assert.False(t, res.RequiresEscalation)
}

func TestEvaluateExpense_Recommendations(t *testing.T) {
	tests := []struct {
		name    string
		emp     domain.Employee
		amount  int64
		receipt bool
		want    Recommendation
	}{
		{"junior small no receipt", junior(), 60_00, false, AutoApprove},
		{"junior at receipt threshold", junior(), 75_00, false, AutoApprove},
		{"junior at ceiling", junior(), 100_00, true, AutoApprove},
		{"junior over ceiling", junior(), 150_00, true, EscalateToManager},
		{"senior under ceiling", senior(), 450_00, true, AutoApprove},
		{"senior over ceiling", senior(), 650_00, true, EscalateToManager},
		{"receipt missing over threshold", senior(), 76_00, false, Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateExpense(DefaultRules(), ExpenseDraft{
				AmountCents: tt.amount,
				Category:    "travel",
				Description: "Taxi to the airport",
				ExpenseDate: day(t, "2025-05-01"),
				HasReceipt:  tt.receipt,
			}, ExpenseContext{Employee: tt.emp, Today: day(t, "2025-05-02")})
			assert.Equal(t, tt.want, res.Recommendation)
		})
	}
}

func TestEvaluateExpense_NonReimbursableKeywords(t *testing.T) {
	res := EvaluateExpense(DefaultRules(), ExpenseDraft{
		AmountCents: 40_00,
		Category:    "meals",
		Description: "Dinner with client, two beers and a glass of Wine",
		ExpenseDate: day(t, "2025-05-01"),
	}, ExpenseContext{Employee: senior(), Today: day(t, "2025-05-01")})

	require.True(t, res.HasViolation(CodeNonReimbursableItem))
	assert.Equal(t, Deny, res.Recommendation)
	for _, v := range res.Violations {
		if v.Code == CodeNonReimbursableItem {
			assert.ElementsMatch(t, []string{"beer", "wine"}, v.Details["matched"])
		}
	}
}

func TestMatchKeywords_WholeWordsOnly(t *testing.T) {
	kws := []string{"wine", "spa", "in room movie", "traffic ticket"}
	assert.Empty(t, MatchKeywords("Visited a winery for the offsite; spatula purchase", kws))
	assert.Equal(t, []string{"in room movie"}, MatchKeywords("Hotel: In-room movie rental", kws))
	assert.Equal(t, []string{"traffic ticket"}, MatchKeywords("paid a TRAFFIC TICKET downtown", kws))
}

func TestEvaluateExpense_PerDiemAccumulationEscalates(t *testing.T) {
	res := EvaluateExpense(DefaultRules(), ExpenseDraft{
		AmountCents: 40_00,
		Category:    "Meals",
		Description: "Lunch",
		ExpenseDate: day(t, "2025-05-01"),
	}, ExpenseContext{Employee: junior(), SameDayCategoryCents: 50_00, Today: day(t, "2025-05-01")})

	require.Equal(t, []Code{CodePerDiemExceeded}, Codes(res.Violations))
	assert.False(t, res.Violations[0].Blocking)
	assert.Equal(t, int64(90_00), res.SameDayTotalCents)
	assert.Equal(t, EscalateToManager, res.Recommendation)
	assert.False(t, res.CanAutoApprove)
}

func TestEvaluateExpense_ReportsAllViolations(t *testing.T) {
	res := EvaluateExpense(DefaultRules(), ExpenseDraft{
		AmountCents: 0,
		Category:    "yacht",
		Description: "spouse ticket",
		ExpenseDate: day(t, "2025-06-01"),
	}, ExpenseContext{Employee: junior(), Today: day(t, "2025-05-01")})

	assert.ElementsMatch(t,
		[]Code{CodeInvalidAmount, CodeInvalidCategory, CodeFutureDate, CodeNonReimbursableItem},
		Codes(res.Violations))
	assert.Equal(t, Deny, res.Recommendation)
}
