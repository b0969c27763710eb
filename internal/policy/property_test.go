//go:build property
// +build property

// Package policy_test contains property-based tests for the rule functions.
package policy_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/policy"
)

var (
	base  = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	today = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
)

func offset(n int) time.Time { return base.AddDate(0, 0, n) }

// TestBusinessDaysMonotonic verifies extending a range never loses days.
// Property: BusinessDays(s, e) <= BusinessDays(s, e+k) <= calendar days
func TestBusinessDaysMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("business days grow with the range", prop.ForAll(
		func(start, length, extra int) bool {
			s := offset(start)
			e := s.AddDate(0, 0, length)
			a := policy.BusinessDays(s, e, nil)
			b := policy.BusinessDays(s, e.AddDate(0, 0, extra), nil)
			return a <= b && b <= length+extra+1 && a >= 0
		},
		gen.IntRange(0, 60),
		gen.IntRange(0, 40),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestPTOThresholdBoundary verifies clean requests auto-approve exactly up to the tier threshold.
func TestPTOThresholdBoundary(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	rules := policy.DefaultRules()

	properties.Property("auto-approve iff days <= threshold", prop.ForAll(
		func(start, length int, senior bool) bool {
			emp := domain.Employee{ID: "e", Tier: domain.TierJunior}
			if senior {
				emp.Tier = domain.TierSenior
			}
			res := policy.EvaluatePTO(rules,
				policy.PTODraft{StartDate: offset(start), EndDate: offset(start + length)},
				policy.PTOContext{Employee: emp, Balance: 100, Today: today})
			if res.BusinessDays == 0 {
				return res.Recommendation == policy.Deny
			}
			if res.BusinessDays <= rules.PTOThreshold(emp.Tier) {
				return res.Recommendation == policy.AutoApprove
			}
			return res.Recommendation == policy.EscalateToManager
		},
		gen.IntRange(0, 60),
		gen.IntRange(0, 30),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestBlackoutAlwaysDenies verifies any overlap with a blackout is denied for every tier.
func TestBlackoutAlwaysDenies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("overlapping blackout denies", prop.ForAll(
		func(start, length, inside int, senior bool) bool {
			emp := domain.Employee{ID: "e", Tier: domain.TierJunior}
			if senior {
				emp.Tier = domain.TierSenior
			}
			d := offset(start + inside%(length+1))
			blackout := domain.CalendarEvent{Kind: domain.EventBlackout, Name: "freeze", Start: d, End: d}
			res := policy.EvaluatePTO(policy.DefaultRules(),
				policy.PTODraft{StartDate: offset(start), EndDate: offset(start + length)},
				policy.PTOContext{Employee: emp, Balance: 100, Events: []domain.CalendarEvent{blackout}, Today: today})
			return res.HasViolation(policy.CodeBlackoutConflict) && res.Recommendation == policy.Deny
		},
		gen.IntRange(0, 60),
		gen.IntRange(0, 20),
		gen.IntRange(0, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestPTOEvaluationDeterministic verifies identical inputs give identical results.
func TestPTOEvaluationDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("EvaluatePTO is pure", prop.ForAll(
		func(start, length, blackoutAt int, balance float64, force, confirmed bool) bool {
			d := offset(blackoutAt)
			events := []domain.CalendarEvent{{Kind: domain.EventBlackout, Name: "freeze", Start: d, End: d}}
			draft := policy.PTODraft{StartDate: offset(start), EndDate: offset(start + length), Force: force}
			pc := policy.PTOContext{
				Employee:  domain.Employee{ID: "e", Tier: domain.TierJunior},
				Balance:   balance,
				Events:    events,
				Today:     today,
				Confirmed: confirmed,
			}
			a := policy.EvaluatePTO(policy.DefaultRules(), draft, pc)
			b := policy.EvaluatePTO(policy.DefaultRules(), draft, pc)
			return reflect.DeepEqual(a, b)
		},
		gen.IntRange(-40, 60),
		gen.IntRange(-5, 20),
		gen.IntRange(0, 80),
		gen.Float64Range(0, 30),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestExpenseEvaluationDeterministic verifies identical inputs give identical results.
func TestExpenseEvaluationDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("EvaluateExpense is pure", prop.ForAll(
		func(amount int64, prior int64, receipt bool, desc string) bool {
			draft := policy.ExpenseDraft{
				AmountCents: amount,
				Category:    "meals",
				Description: desc,
				ExpenseDate: today,
				HasReceipt:  receipt,
			}
			ec := policy.ExpenseContext{
				Employee:             domain.Employee{ID: "e", Tier: domain.TierJunior},
				SameDayCategoryCents: prior,
				Today:                today,
			}
			a := policy.EvaluateExpense(policy.DefaultRules(), draft, ec)
			b := policy.EvaluateExpense(policy.DefaultRules(), draft, ec)
			return reflect.DeepEqual(a, b)
		},
		gen.Int64Range(-1000, 100000),
		gen.Int64Range(0, 10000),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestExpenseCeilingNeverAutoApproves verifies amounts above the tier ceiling are never auto-approved.
func TestExpenseCeilingNeverAutoApproves(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	rules := policy.DefaultRules()

	properties.Property("over ceiling is never auto-approved", prop.ForAll(
		func(over int64, senior, receipt bool) bool {
			emp := domain.Employee{ID: "e", Tier: domain.TierJunior}
			if senior {
				emp.Tier = domain.TierSenior
			}
			res := policy.EvaluateExpense(rules, policy.ExpenseDraft{
				AmountCents: rules.ExpenseCeiling(emp.Tier) + over,
				Category:    "travel",
				Description: "Flight to the regional office",
				ExpenseDate: today,
				HasReceipt:  receipt,
			}, policy.ExpenseContext{Employee: emp, Today: today})
			if res.CanAutoApprove {
				return false
			}
			if receipt {
				return res.Recommendation == policy.EscalateToManager
			}
			return res.Recommendation == policy.Deny
		},
		gen.Int64Range(1, 1_000_00),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
