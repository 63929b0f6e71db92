package parking

import (
	"math"
	"time"

	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/types"
)

// Fee prices a stay of length d under plan p. The first hour, or any part of
// it, costs p.Base; every started hour after that adds p.Hourly.
//
//	Fee(30*time.Minute, plan{base 5, hourly 3}) = 5
//	Fee(66*time.Minute, ...)                    = 8
//	Fee(3*time.Hour, ...)                       = 11
func Fee(d time.Duration, p *rateplan.Plan) (types.Money, error) {
	if d < 0 {
		return types.Money{}, &Error{Kind: KindInvalidDuration, ID: d.String(), Err: ErrInvalidDuration}
	}
	if p == nil {
		return types.Money{}, ErrRatePlanNotFound
	}
	if err := validatePlan(p); err != nil {
		return types.Money{}, err
	}
	if d <= time.Hour {
		return p.Base, nil
	}

	extra := d - time.Hour
	hours := int64(extra / time.Hour)
	if extra%time.Hour != 0 {
		hours++
	}
	return p.Base.Add(p.Hourly.Multiply(hours)), nil
}

// validatePlan rejects plans that could price a stay below zero or mix
// currencies. Plans may arrive from a RatePlanLookup or a durable store
// without passing through SetRatePlan.
func validatePlan(p *rateplan.Plan) error {
	if p.Base.IsNegative() || p.Hourly.IsNegative() {
		return ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if !p.Base.SameCurrency(p.Hourly) {
		return ValidationError{Field: "currency", Message: "base and hourly must share a currency"}
	}
	return nil
}

// FeeHours is Fee for a duration expressed in fractional hours.
func FeeHours(hours float64, p *rateplan.Plan) (types.Money, error) {
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return types.Money{}, &Error{Kind: KindInvalidDuration, ID: formatHours(hours), Err: ErrInvalidDuration}
	}
	return Fee(time.Duration(math.Round(hours*float64(time.Hour))), p)
}

func formatHours(h float64) string {
	return time.Duration(h * float64(time.Hour)).String()
}
