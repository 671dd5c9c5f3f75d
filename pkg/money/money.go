// Package money holds integer-cent arithmetic. Rates are basis points
// (1/100 of a percent) and fractional cents are resolved with round-half-up on
// the exact rational value.
package money

import "github.com/shopspring/decimal"

const basisPointsDenominator = 10000

var denominator = decimal.NewFromInt(basisPointsDenominator)

// PercentOfBasisPoints returns round(amountCents * basisPoints / 10000).
// Halves round away from zero.
func PercentOfBasisPoints(amountCents, basisPoints int64) int64 {
	exact := decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(basisPoints)).
		Div(denominator)
	return exact.Round(0).IntPart()
}

// AddCents sums values exactly.
func AddCents(values ...int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// SubtractCents returns a-b. Negative results are returned as-is so callers can
// detect over-draws.
func SubtractCents(a, b int64) int64 {
	return a - b
}

// Prorate returns round(amountCents * numerator / denominator). A zero
// denominator yields zero.
func Prorate(amountCents, numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	exact := decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(numerator)).
		Div(decimal.NewFromInt(denominator))
	return exact.Round(0).IntPart()
}

// BasisPointsToPercent renders a basis point rate as a percentage value,
// e.g. 650 -> 6.5.
func BasisPointsToPercent(basisPoints int64) decimal.Decimal {
	return decimal.New(basisPoints, -2)
}
