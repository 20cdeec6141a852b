package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var groupedPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)

// For any amount, FormatAmount should use groups of three digits, keep
// exactly two decimals and parse back to the rounded value.
func TestProperty_AmountFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatAmount groups thousands", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatAmount(amount)

			parts := strings.Split(strings.TrimPrefix(formatted, "-"), ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("Expected 2 decimal places for %f, got %s", amount, formatted)
				return false
			}
			if !groupedPattern.MatchString(parts[0]) {
				t.Logf("Invalid grouping for %f: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatAmount preserves value", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatAmount(amount)
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				t.Logf("Unparseable %s: %v", formatted, err)
				return false
			}
			if diff := math.Abs(parsed - math.Round(amount*100)/100); diff > 0.01 {
				t.Logf("Value not preserved: original=%f, formatted=%s, parsed=%f", amount, formatted, parsed)
				return false
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent signs positive values", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			return value <= 0 || strings.HasPrefix(formatted, "+")
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatCompact uses correct units", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCompact(amount)
			abs := math.Abs(amount)
			switch {
			case abs >= 1e9:
				return strings.HasSuffix(formatted, "B")
			case abs >= 1e6:
				return strings.HasSuffix(formatted, "M")
			case abs >= 1e3:
				return strings.HasSuffix(formatted, "K")
			}
			return !strings.ContainsAny(formatted, "KMB")
		},
		gen.Float64Range(-1e10, 1e10),
	))

	properties.TestingRun(t)
}

func TestFormatAmountExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "0.00"},
		{1, "1.00"},
		{999.999, "1,000.00"},
		{1000, "1,000.00"},
		{100000, "100,000.00"},
		{1234567.891, "1,234,567.89"},
		{-1234.56, "-1,234.56"},
		{-0.001, "0.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatAmount(tc.amount); got != tc.expected {
				t.Errorf("FormatAmount(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestFormatPnLAndR(t *testing.T) {
	if got := FormatPnL(500); got != "+500.00" {
		t.Errorf("FormatPnL(500) = %s", got)
	}
	if got := FormatPnL(-250); got != "-250.00" {
		t.Errorf("FormatPnL(-250) = %s", got)
	}
	if got := FormatR(2); got != "+2.00R" {
		t.Errorf("FormatR(2) = %s", got)
	}
	if got := FormatR(-1); got != "-1.00R" {
		t.Errorf("FormatR(-1) = %s", got)
	}
}

func TestFormatPrice(t *testing.T) {
	testCases := []struct {
		price    float64
		expected string
	}{
		{64000.5, "64000.50"},
		{1.23456, "1.2346"},
		{0.00001234, "0.00001234"},
	}
	for _, tc := range testCases {
		if got := FormatPrice(tc.price); got != tc.expected {
			t.Errorf("FormatPrice(%v) = %s, want %s", tc.price, got, tc.expected)
		}
	}
}
