package rules

import "github.com/shopspring/decimal"

// lotSize scales a source volume by the target multiplier and clamps it into
// [min, max]. Decimal arithmetic keeps 0.1-style multipliers exact; the result
// is converted back to float64 at the gateway boundary.
func lotSize(source, multiplier, min, max float64) float64 {
	lots := decimal.NewFromFloat(source).Mul(decimal.NewFromFloat(multiplier))

	lo := decimal.NewFromFloat(min)
	hi := decimal.NewFromFloat(max)
	if lots.LessThan(lo) {
		lots = lo
	}
	if lots.GreaterThan(hi) {
		lots = hi
	}

	out, _ := lots.Float64()
	return out
}
