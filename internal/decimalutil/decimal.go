// Package decimalutil wraps github.com/shopspring/decimal so that every
// price/size value between the adapter's parser and the two sinks is
// parsed and formatted as an arbitrary-precision decimal. Floating-point
// conversion is forbidden anywhere on this path (spec §3, §9 "Decimals").
package decimalutil

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// D is a short alias for the decimal type every canonical event field
// uses, so package signatures don't need to import shopspring/decimal
// directly.
type D = decimal.Decimal

// Zero is the canonical zero value, used as the start accumulator for
// sums (volume, notional) so callers never construct it from a float.
var Zero = decimal.Zero

// Parse parses an exchange-provided numeric string into a Decimal. The
// string is never routed through float64: decimal.NewFromString parses
// the mantissa and exponent directly from the text.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("decimalutil: empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decimalutil: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse panics on a malformed string; reserved for constants and
// tests where the input is known good.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String round-trips a Decimal back to the exact digit sequence it was
// parsed from (for plain, non-exponential vendor strings this is
// bit-exact, satisfying the numeric round-trip invariant in spec §8.5).
func String(d decimal.Decimal) string {
	if d.Exponent() < 0 {
		// Keep the parsed scale: d.String() would trim trailing zeros.
		return d.StringFixed(-d.Exponent())
	}
	return d.String()
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
