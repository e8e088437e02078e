package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// weiPerUnit is the number of smallest units in one whole coin
var weiPerUnit = decimal.New(1, 18)

// guard runs fn and converts a panic into an error so callers can apply their safe default
func guard[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	return fn()
}

// parseAmount parses a decimal amount string
func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", raw, err)
	}
	return d, nil
}

// toWholeUnits converts a smallest-unit amount into whole coins
func toWholeUnits(wei decimal.Decimal) decimal.Decimal {
	return wei.Div(weiPerUnit)
}

// mean returns the arithmetic mean, or 0 for an empty slice
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev returns the population standard deviation around m
func stdDev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// coefficientOfVariation returns stddev/mean, or 0 when the mean is not positive
func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m <= 0 {
		return 0
	}
	return stdDev(values, m) / m
}

// ratio divides n by d, returning 0 when d is zero
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
