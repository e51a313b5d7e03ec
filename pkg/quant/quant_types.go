package quant

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TimeStamp represents Unix Nanoseconds.
type TimeStamp int64

// FeeRate is a fee expressed in millionths: 1,000,000 == 100%.
// E.g., 0.05% = 500 FeeRate.
type FeeRate int64

// FeeRateMax is the denominator of the fee-rate scale (100%).
const FeeRateMax FeeRate = 1_000_000

// Valid reports whether the rate is within [0, 100%].
func (f FeeRate) Valid() bool {
	return f >= 0 && f <= FeeRateMax
}

// FeeRateFromPercents parses a percentage string into a FeeRate.
// Rule #1: No Float. E.g., "0.05" -> 500.
func FeeRateFromPercents(s string) (FeeRate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	rate := FeeRate(d.Mul(decimal.NewFromInt(int64(FeeRateMax))).Div(decimal.NewFromInt(100)).IntPart())
	if !rate.Valid() {
		return 0, fmt.Errorf("fee rate out of range: %s%%", s)
	}
	return rate, nil
}

// Percentage of an available balance, in whole percents.
type Percentage int32

// PercentageMax is a full balance (100%).
const PercentageMax Percentage = 100

func (p Percentage) Valid() bool {
	return p >= 0 && p <= PercentageMax
}

// Notional converts a base-asset amount at a price into quote-asset units.
// Amounts are in fundamental units, so the base/quote decimal difference
// must be shifted in. Truncates toward zero.
func Notional(amount *big.Int, price decimal.Decimal, baseDecimals, quoteDecimals int32) *big.Int {
	return decimal.NewFromBigInt(amount, 0).Mul(price).Shift(quoteDecimals - baseDecimals).BigInt()
}

// NotionalFee computes the fee on a notional at the given rate.
func NotionalFee(notional *big.Int, rate FeeRate) *big.Int {
	fee := new(big.Int).Mul(notional, big.NewInt(int64(rate)))
	return fee.Quo(fee, big.NewInt(int64(FeeRateMax)))
}

// NotionalPlusFee is the quote amount a buyer must hold to cover a trade:
// the notional plus the fee charged on it.
func NotionalPlusFee(amount *big.Int, price decimal.Decimal, baseDecimals, quoteDecimals int32, rate FeeRate) *big.Int {
	n := Notional(amount, price, baseDecimals, quoteDecimals)
	return n.Add(n, NotionalFee(n, rate))
}

// QuantityFromNotionalAndPrice inverts Notional: how much base asset the
// given quote notional purchases at the price. Truncates toward zero.
func QuantityFromNotionalAndPrice(notional *big.Int, price decimal.Decimal, baseDecimals, quoteDecimals int32) *big.Int {
	return decimal.NewFromBigInt(notional, 0).DivRound(price, 18).Shift(baseDecimals - quoteDecimals).BigInt()
}

// ParseDecimal parses a decimal string, preserving its scale.
// The scale matters: a market created at "20000.025" keeps three price
// decimals for midpoint rounding.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" || s == "null" {
		return decimal.Decimal{}, fmt.Errorf("empty decimal")
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, fmt.Errorf("scientific notation not allowed: %s", s)
	}
	return decimal.NewFromString(s)
}
