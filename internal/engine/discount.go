package engine

import "github.com/shopspring/decimal"

// DefaultPrecision is the number of minor-unit decimal places discounts are rounded to.
const DefaultPrecision int32 = 2

var hundred = decimal.NewFromInt(100)

// CalculateDiscount computes the discount an action grants against the cart subtotal.
// The result is never negative, never above the subtotal, and is rounded half-up to
// precision places only once, at the end.
func CalculateDiscount(action Action, cart CartData, precision int32) decimal.Decimal {
	var d decimal.Decimal
	bound := cart.Subtotal
	switch action.DiscountType {
	case DiscountFlat:
		d = action.DiscountValue
	case DiscountPercentage:
		d = cart.Subtotal.Mul(action.DiscountValue).Div(hundred)
		if action.MaxDiscount != nil {
			bound = decimal.Min(bound, *action.MaxDiscount)
		}
	default:
		return decimal.Zero
	}

	d = decimal.Min(d, bound)
	if d.IsNegative() || bound.IsNegative() {
		return decimal.Zero
	}
	// Round is half away from zero, i.e. half-up for non-negative values.
	r := d.Round(precision)
	if r.GreaterThan(bound) {
		// bound itself carries more places than the currency; never round past it
		r = d.RoundFloor(precision)
	}
	return r
}
