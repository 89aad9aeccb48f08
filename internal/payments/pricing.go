package payments

import "errors"

// Price lookup errors
var (
	ErrInvalidPlan    = errors.New("unknown plan")
	ErrInvalidPackage = errors.New("unknown token package")
)

// Billing intervals
const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// Plan is one paid subscription tier. Prices are whole IDR.
type Plan struct {
	Code         string
	Name         string
	MonthlyPrice int64
	YearlyPrice  int64
}

// Package is a prepaid token bundle. Larger bundles carry bonus tokens.
type Package struct {
	ID     string
	Name   string
	Price  int64 // whole IDR
	Tokens int64
}

// PriceTable holds every purchasable item plus the per-plan wallet grants and
// seat limits. It is constructed once at startup and injected; nothing in the
// billing path reads prices from anywhere else.
type PriceTable struct {
	Plans      map[string]Plan
	Packages   map[string]Package
	Grants     map[string]int64 // welcome grant per plan tier
	SeatLimits map[string]int   // -1 = unlimited
}

// DefaultPriceTable returns the standard catalog.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		Plans: map[string]Plan{
			"starter":    {Code: "starter", Name: "Starter", MonthlyPrice: 99_000, YearlyPrice: 990_000},
			"growth":     {Code: "growth", Name: "Growth", MonthlyPrice: 299_000, YearlyPrice: 2_990_000},
			"business":   {Code: "business", Name: "Business", MonthlyPrice: 599_000, YearlyPrice: 5_990_000},
			"enterprise": {Code: "enterprise", Name: "Enterprise", MonthlyPrice: 1_499_000, YearlyPrice: 14_990_000},
		},
		Packages: map[string]Package{
			"pkg_50k":  {ID: "pkg_50k", Name: "50K Tokens", Price: 50_000, Tokens: 50_000},
			"pkg_100k": {ID: "pkg_100k", Name: "100K Tokens", Price: 100_000, Tokens: 105_000},
			"pkg_250k": {ID: "pkg_250k", Name: "250K Tokens", Price: 250_000, Tokens: 270_000},
			"pkg_500k": {ID: "pkg_500k", Name: "500K Tokens", Price: 500_000, Tokens: 560_000},
		},
		Grants: map[string]int64{
			"free":       500,
			"starter":    5_000,
			"growth":     25_000,
			"business":   50_000,
			"enterprise": 100_000,
		},
		SeatLimits: map[string]int{
			"free":       3,
			"starter":    5,
			"growth":     15,
			"business":   50,
			"enterprise": -1,
		},
	}
}

// PlanPrice returns the price of a plan for the given interval.
func (t *PriceTable) PlanPrice(code, interval string) (int64, error) {
	plan, ok := t.Plans[code]
	if !ok {
		return 0, ErrInvalidPlan
	}
	switch interval {
	case IntervalMonthly:
		return plan.MonthlyPrice, nil
	case IntervalYearly:
		return plan.YearlyPrice, nil
	default:
		return 0, ErrInvalidPlan
	}
}

// LookupPackage returns a token package by ID.
func (t *PriceTable) LookupPackage(id string) (Package, error) {
	pkg, ok := t.Packages[id]
	if !ok {
		return Package{}, ErrInvalidPackage
	}
	return pkg, nil
}

// SeatLimit returns the seat limit for a plan tier; unknown tiers get the
// free limit.
func (t *PriceTable) SeatLimit(planCode string) int {
	if limit, ok := t.SeatLimits[planCode]; ok {
		return limit
	}
	return t.SeatLimits["free"]
}
