package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseNullDecimal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
		want  string
	}{
		{name: "step size", input: "0.00010000", valid: true, want: "0.0001"},
		{name: "empty is null", input: "", valid: false},
		{name: "whitespace is null", input: "  ", valid: false},
		{name: "garbage is null", input: "n/a", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNullDecimal(tt.input)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.Equal(t, tt.want, got.Decimal.String())
			}
		})
	}
}

func TestPowTenNeg(t *testing.T) {
	got := PowTenNeg(4)
	assert.True(t, got.Valid)
	assert.Equal(t, "0.0001", got.Decimal.String())

	assert.False(t, PowTenNeg(0).Valid)
}

func TestPercentChange(t *testing.T) {
	pct, ok := PercentChange(decimal.NewFromInt(100), decimal.NewFromInt(103))
	assert.True(t, ok)
	assert.Equal(t, "3", pct.String())

	pct, ok = PercentChange(decimal.RequireFromString("3"), decimal.RequireFromString("2"))
	assert.True(t, ok)
	assert.Equal(t, "-33.33", pct.String())

	_, ok = PercentChange(decimal.Zero, decimal.NewFromInt(1))
	assert.False(t, ok)
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, -0.8167, Mean([]float64{-0.9, -0.85, -0.7}), 0.0001)
}
