package money

import (
	"fmt"
	"math"
)

// Round2 rounds an amount to two decimal places (half away from zero).
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Trunc2 truncates an amount to two decimal places without rounding. The
// pre-round at four decimals keeps exact-cent inputs whose float64 form sits
// just below the decimal value (4.35, 8.20) from losing a cent.
func Trunc2(amount float64) float64 {
	return math.Trunc(math.Round(amount*10000)/100) / 100
}

// Cents converts an amount to integer cents for exact comparisons.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Equal reports whether two amounts are the same to the cent.
func Equal(a, b float64) bool {
	return Cents(a) == Cents(b)
}

// Format renders an amount the way payment APIs expect it, e.g. "16.66".
func Format(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
