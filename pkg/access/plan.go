package access

import (
	"strings"
	"time"
)

const (
	// DefaultAnnualMinAmount is the smallest amount treated as an annual purchase
	DefaultAnnualMinAmount = 147.0
	// DefaultMonthlyMinAmount is the smallest amount treated as a monthly purchase
	DefaultMonthlyMinAmount = 27.0
)

// PlanRules maps a purchased product to a canonical plan.
//
// Mapping is consulted first, keyed by product id or product name
// (case-insensitive). When nothing matches, the amount thresholds and
// the words "anual"/"mensal" in the product name decide. Anything else
// is passed through unchanged.
type PlanRules struct {
	Mapping          map[string]Plan
	AnnualMinAmount  float64
	MonthlyMinAmount float64
}

// DefaultPlanRules returns rules with no mapping and the default thresholds
func DefaultPlanRules() PlanRules {
	return PlanRules{
		AnnualMinAmount:  DefaultAnnualMinAmount,
		MonthlyMinAmount: DefaultMonthlyMinAmount,
	}
}

// Normalize returns the canonical plan for a product and whether the
// configured mapping produced it.
func (r PlanRules) Normalize(productID, productName string, amount float64) (Plan, bool) {
	if plan, ok := r.lookup(productID); ok {
		return plan, true
	}
	if plan, ok := r.lookup(productName); ok {
		return plan, true
	}

	name := strings.ToLower(productName)
	switch {
	case (r.AnnualMinAmount > 0 && amount >= r.AnnualMinAmount) || strings.Contains(name, "anual"):
		return PlanAnnual, false
	case (r.MonthlyMinAmount > 0 && amount >= r.MonthlyMinAmount) || strings.Contains(name, "mensal"):
		return PlanMonthly, false
	}
	return Plan(productName), false
}

func (r PlanRules) lookup(key string) (Plan, bool) {
	key = strings.TrimSpace(key)
	if key == "" || len(r.Mapping) == 0 {
		return "", false
	}
	if plan, ok := r.Mapping[key]; ok {
		return plan, true
	}
	for k, plan := range r.Mapping {
		if strings.EqualFold(k, key) {
			return plan, true
		}
	}
	return "", false
}

// ComputeExpiration prefers an explicit provider expiration and otherwise
// derives it from the plan: one year for Anual, one month for Mensal,
// nil for anything else.
func ComputeExpiration(plan Plan, start time.Time, explicit *time.Time) *time.Time {
	if explicit != nil {
		t := *explicit
		return &t
	}
	var t time.Time
	switch plan {
	case PlanAnnual:
		t = start.AddDate(1, 0, 0)
	case PlanMonthly:
		t = start.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &t
}
