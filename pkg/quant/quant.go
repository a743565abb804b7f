package quant

import (
	"github.com/shopspring/decimal"
)

// BasisPoints expresses a fee rate in hundredths of a percent.
// 10000 bps = 100%.
type BasisPoints uint16

// BpsDenominator is the full scale of a basis-point rate.
const BpsDenominator = 10000

// Valid reports whether the rate is within [0, 10000].
func (b BasisPoints) Valid() bool {
	return b <= BpsDenominator
}

// Decimal returns the rate as a decimal fraction (600 bps -> 0.06).
func (b BasisPoints) Decimal() decimal.Decimal {
	return decimal.New(int64(b), 0).Div(decimal.New(BpsDenominator, 0))
}

var bpsDenom = decimal.New(BpsDenominator, 0)

// SplitSettlement divides a settled amount into the platform fee and the
// seller proceeds. The fee is floor(amount * rate / 10000); the seller
// receives the remainder, so fee + proceeds == amount exactly and rounding
// dust always goes to the seller.
func SplitSettlement(amount decimal.Decimal, rate BasisPoints) (fee, proceeds decimal.Decimal) {
	fee = amount.Mul(decimal.New(int64(rate), 0)).Div(bpsDenom).Floor()
	proceeds = amount.Sub(fee)
	return fee, proceeds
}

// IsIntegral reports whether the amount is a whole number of base units.
// Bid amounts are denominated in indivisible base units (wei-style), so
// fractional amounts are rejected at the boundary.
func IsIntegral(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(0))
}
