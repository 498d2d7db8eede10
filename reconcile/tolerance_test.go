package reconcile_test

import (
	"testing"

	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/shopspring/decimal"
)

func TestToleranceValidate(t *testing.T) {
	if err := reconcile.DefaultTolerance().Validate(); err != nil {
		t.Fatalf("zero tolerance must be valid: %v", err)
	}

	ok := reconcile.ToleranceConfig{
		AmountPercent:  decimal.RequireFromString("1"),
		AmountAbsolute: decimal.RequireFromString("100"),
		DateDays:       30,
		FuzzyThreshold: 100,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("boundary values must be valid: %v", err)
	}

	cases := []struct {
		name      string
		tolerance reconcile.ToleranceConfig
	}{
		{"percent above 1", reconcile.ToleranceConfig{AmountPercent: decimal.RequireFromString("1.01")}},
		{"negative percent", reconcile.ToleranceConfig{AmountPercent: decimal.RequireFromString("-0.1")}},
		{"negative absolute", reconcile.ToleranceConfig{AmountAbsolute: decimal.RequireFromString("-1")}},
		{"negative days", reconcile.ToleranceConfig{DateDays: -1}},
		{"threshold above 100", reconcile.ToleranceConfig{FuzzyThreshold: 101}},
		{"negative threshold", reconcile.ToleranceConfig{FuzzyThreshold: -1}},
	}
	for _, tc := range cases {
		if err := tc.tolerance.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
