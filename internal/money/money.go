// Package money holds the canonical currency arithmetic. Every subtotal,
// tax, total and change amount in the system passes through Round before it
// is persisted or displayed.
package money

import "math"

// epsilon counters binary floating-point representation error (19.005 is
// stored as 19.004999...) so half-cent values round up as intended.
const epsilon = 1e-9

// Round rounds an amount to two decimal places using round-half-up
// semantics, never banker's rounding. It is idempotent.
func Round(amount float64) float64 {
	return math.Floor((amount+epsilon)*100+0.5) / 100
}

// Tax computes the rounded tax amount for a subtotal at the given store-level
// tax rate percentage.
func Tax(subtotal float64, taxRate float64) float64 {
	return Round(subtotal * taxRate / 100)
}
