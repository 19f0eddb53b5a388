package utils

import (
	"math"
	"strconv"
)

func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func NormalizeTo(value float64, decimalPlaces int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}

	multiplier := math.Pow(10, float64(decimalPlaces))
	return math.Round(value*multiplier) / multiplier
}

// CapValue caps a value to a maximum while preserving sign
func CapValue(value, maxValue float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}

	if value > maxValue {
		return maxValue
	}
	if value < -maxValue {
		return -maxValue
	}
	return value
}
