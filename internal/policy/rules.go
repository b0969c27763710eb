// Package policy implements the deterministic validation engine for PTO and
// expense requests. EvaluatePTO and EvaluateExpense are pure; Engine gathers
// their inputs from storage.
package policy

import (
	"strings"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// InsufficientBalanceMode selects how a PTO request exceeding the balance is handled.
type InsufficientBalanceMode string

const (
	// ModeConfirm requires a force flag plus an explicit confirmation from the
	// conversation before an insufficient-balance request is escalated.
	ModeConfirm InsufficientBalanceMode = "confirm"
	// ModeAutoEscalate escalates insufficient-balance requests without asking.
	ModeAutoEscalate InsufficientBalanceMode = "auto_escalate"
)

// Default rule values.
const (
	DefaultJuniorPTOThreshold    = 3
	DefaultSeniorPTOThreshold    = 10
	DefaultJuniorExpenseCeiling  = 100_00
	DefaultSeniorExpenseCeiling  = 500_00
	DefaultReceiptThresholdCents = 75_00
	DefaultMealsPerDiemCents     = 75_00
)

// DefaultCategories are the accepted expense categories.
var DefaultCategories = []string{"meals", "travel", "lodging", "transportation", "supplies", "training", "software", "other"}

// DefaultNonReimbursableKeywords are matched as whole words against expense descriptions.
var DefaultNonReimbursableKeywords = []string{
	"alcohol", "alcoholic", "beer", "wine", "liquor", "cocktail", "bar tab", "minibar", "mini bar",
	"traffic ticket", "traffic citation", "traffic fine", "parking ticket", "parking fine", "speeding ticket",
	"spouse", "spousal", "family", "children", "kids",
	"in room movie", "in room entertainment", "pay per view", "movie rental", "spa",
}

// Rules holds every number and list the engine decides with.
type Rules struct {
	PTOThresholds           map[domain.Tier]int
	ExpenseCeilingsCents    map[domain.Tier]int64
	ReceiptThresholdCents   int64
	PerDiemCents            map[string]int64 // Per category, per day.
	Categories              []string         // Empty accepts any category.
	NonReimbursableKeywords []string
	InsufficientBalanceMode InsufficientBalanceMode
}

// DefaultRules returns the handbook defaults.
func DefaultRules() Rules {
	return Rules{
		PTOThresholds: map[domain.Tier]int{
			domain.TierJunior: DefaultJuniorPTOThreshold,
			domain.TierSenior: DefaultSeniorPTOThreshold,
		},
		ExpenseCeilingsCents: map[domain.Tier]int64{
			domain.TierJunior: DefaultJuniorExpenseCeiling,
			domain.TierSenior: DefaultSeniorExpenseCeiling,
		},
		ReceiptThresholdCents:   DefaultReceiptThresholdCents,
		PerDiemCents:            map[string]int64{"meals": DefaultMealsPerDiemCents},
		Categories:              append([]string(nil), DefaultCategories...),
		NonReimbursableKeywords: append([]string(nil), DefaultNonReimbursableKeywords...),
		InsufficientBalanceMode: ModeConfirm,
	}
}

// PTOThreshold returns the auto-approval threshold in business days.
// Unknown tiers get the junior threshold.
func (r Rules) PTOThreshold(tier domain.Tier) int {
	if v, ok := r.PTOThresholds[tier]; ok {
		return v
	}
	if v, ok := r.PTOThresholds[domain.TierJunior]; ok {
		return v
	}
	return DefaultJuniorPTOThreshold
}

// ExpenseCeiling returns the auto-approval ceiling in cents.
// Unknown tiers get the junior ceiling.
func (r Rules) ExpenseCeiling(tier domain.Tier) int64 {
	if v, ok := r.ExpenseCeilingsCents[tier]; ok {
		return v
	}
	if v, ok := r.ExpenseCeilingsCents[domain.TierJunior]; ok {
		return v
	}
	return DefaultJuniorExpenseCeiling
}

// PerDiem returns the per-day accumulation ceiling for category, if any.
func (r Rules) PerDiem(category string) (int64, bool) {
	v, ok := r.PerDiemCents[NormalizeCategory(category)]
	return v, ok && v > 0
}

// KnownCategory reports whether category is accepted.
func (r Rules) KnownCategory(category string) bool {
	if len(r.Categories) == 0 {
		return true
	}
	c := NormalizeCategory(category)
	for _, known := range r.Categories {
		if NormalizeCategory(known) == c {
			return true
		}
	}
	return false
}

func (r Rules) balanceMode() InsufficientBalanceMode {
	if r.InsufficientBalanceMode == ModeAutoEscalate {
		return ModeAutoEscalate
	}
	return ModeConfirm
}

// NormalizeCategory lowercases and trims an expense category.
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
