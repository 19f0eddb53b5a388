package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Parse string, fallback to zero on error
func ParseDecimalSafe(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseNullDecimal parses a vendor numeric string. Empty or unparsable input
// yields an invalid (null) decimal rather than a fabricated zero.
func ParseNullDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// PowTenNeg returns 10^-places, e.g. 4 -> 0.0001. Zero or negative places
// yield null, matching vendors that report "0 decimals" as "not exposed".
func PowTenNeg(places int) decimal.NullDecimal {
	if places <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.New(1, int32(-places)))
}

// PercentChange returns (after - before) / before * 100 rounded to 2 places.
// ok is false when before is zero.
func PercentChange(before, after decimal.Decimal) (decimal.Decimal, bool) {
	if before.IsZero() {
		return decimal.Zero, false
	}
	return after.Sub(before).Div(before).Mul(decimal.NewFromInt(100)).Round(2), true
}
