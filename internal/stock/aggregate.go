package stock

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rounding selects how a fractional base-unit total becomes an integer count.
type Rounding string

const (
	// RoundHalfUp rounds half away from zero.
	RoundHalfUp Rounding = "half_up"
	// RoundHalfEven rounds half to the nearest even integer.
	RoundHalfEven Rounding = "half_even"
	// RoundDown truncates toward zero.
	RoundDown Rounding = "down"
	// RoundFloor rounds toward negative infinity.
	RoundFloor Rounding = "floor"
	// RoundCeil rounds toward positive infinity.
	RoundCeil Rounding = "ceil"
)

// ParseRounding validates a configured rounding policy. Empty selects half_up.
func ParseRounding(s string) (Rounding, error) {
	r := Rounding(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case "":
		return RoundHalfUp, nil
	case RoundHalfUp, RoundHalfEven, RoundDown, RoundFloor, RoundCeil:
		return r, nil
	}
	return "", fmt.Errorf("stock: unknown rounding policy %q", s)
}

// Apply rounds d to an integer according to the policy.
func (r Rounding) Apply(d decimal.Decimal) decimal.Decimal {
	switch r {
	case RoundHalfEven:
		return d.RoundBank(0)
	case RoundDown:
		return d.Truncate(0)
	case RoundFloor:
		return d.Floor()
	case RoundCeil:
		return d.Ceil()
	default:
		return d.Round(0)
	}
}

// Aggregate computes the product total in base units: the sum of each entry's
// stock times its conversion factor, rounded by r. Entries with a non-positive
// factor are reported as ErrInconsistent instead of being coerced.
func Aggregate(entries []Entry, r Rounding) (int64, error) {
	sum := decimal.Zero
	for _, e := range entries {
		if !e.Factor.IsPositive() {
			return 0, fmt.Errorf("%w: entry %d has conversion factor %s", ErrInconsistent, e.ID, e.Factor)
		}
		sum = sum.Add(e.BaseQuantity(e.Stock))
	}
	return r.Apply(sum).IntPart(), nil
}
