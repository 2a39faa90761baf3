// Package utils provides small, generic helper functions used across
// different layers of the application. This file holds money helpers: cent
// rounding and locale-aware price formatting.
package utils

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Round2 rounds an amount to two decimal places (half away from zero).
// All discount and total computations pass through here so repeated
// arithmetic cannot accumulate sub-cent drift.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// printer formats prices with grouping separators (e.g. "1,249.50").
var printer = message.NewPrinter(language.English)

// FormatPrice renders an amount with the currency code for display,
// e.g. FormatPrice(1249.5, "EGP") == "1,249.50 EGP".
func FormatPrice(v float64, currency string) string {
	return printer.Sprintf("%.2f %s", v, currency)
}
