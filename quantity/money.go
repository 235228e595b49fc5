// Package quantity holds the fixed-point value arithmetic the till is built
// on: money is always quantized to two decimal places, stock quantities to
// one. Everything else in the module stores and compares these values
// without further rounding.
package quantity

import "github.com/shopspring/decimal"

var (
	// ZeroMoney is 0.00.
	ZeroMoney = decimal.New(0, -2)
	// ZeroQty is 0.0.
	ZeroQty = decimal.New(0, -1)

	hundred = decimal.NewFromInt(100)
)

// RoundMoney quantizes to the penny, rounding half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ValidMoney reports whether d is exactly representable to two decimal
// places.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// RoundQty quantizes a stock quantity to one decimal place.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(1)
}

// ValidQty reports whether d is exactly representable to one decimal place.
// Stock movements with finer precision are rejected, not rounded.
func ValidQty(d decimal.Decimal) bool {
	return d.Equal(d.Round(1))
}

// LineTotal is the value of a transaction line: item count times unit
// amount. Both operands are already quantized so the product is exact.
func LineTotal(items int, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(items)))
}
