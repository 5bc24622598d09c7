package candles

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal scales a fixed-point on-chain integer down by 10^decimals.
// The division is done at arbitrary precision and only the result is
// narrowed to float64, so amounts far beyond uint64 keep their magnitude.
func ToDecimal(raw *big.Int, decimals int32) float64 {
	if raw == nil {
		return 0
	}
	d := decimal.NewFromBigInt(raw, 0)
	if decimals == 0 {
		return d.InexactFloat64()
	}
	return d.Shift(-decimals).InexactFloat64()
}

// Ratio returns (num / 10^numDecimals) / (den / 10^denDecimals).
// A nil or zero denominator yields 0, which callers treat as a valid
// "no price yet" value rather than an error.
func Ratio(num *big.Int, numDecimals int32, den *big.Int, denDecimals int32) float64 {
	if num == nil || den == nil || den.Sign() == 0 {
		return 0
	}
	n := decimal.NewFromBigInt(num, -numDecimals)
	d := decimal.NewFromBigInt(den, -denDecimals)
	return n.DivRound(d, 18).InexactFloat64()
}
