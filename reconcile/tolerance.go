package reconcile

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ToleranceConfig holds the four matching knobs for one reconciliation run.
// The zero value means exact-match-only: no amount drift, no date drift,
// fuzzy matching disabled.
type ToleranceConfig struct {
	// AmountPercent is a fraction, e.g. 0.01 allows 1% amount drift.
	AmountPercent decimal.Decimal `json:"amount_percent"`
	// AmountAbsolute allows a fixed drift in currency units.
	AmountAbsolute decimal.Decimal `json:"amount_absolute"`
	// DateDays is the allowed date difference in whole days.
	DateDays int `json:"date_days"`
	// FuzzyThreshold is the minimum similarity score (0-100) for a fuzzy
	// reference match. 0 disables fuzzy matching.
	FuzzyThreshold int `json:"fuzzy_threshold"`
}

func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		AmountPercent:  decimal.Zero,
		AmountAbsolute: decimal.Zero,
		DateDays:       0,
		FuzzyThreshold: 0,
	}
}

// Validate rejects out-of-range values before any matching happens.
func (t ToleranceConfig) Validate() error {
	if t.AmountPercent.IsNegative() || t.AmountPercent.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("amount percent tolerance must be between 0 and 1")
	}
	if t.AmountAbsolute.IsNegative() {
		return errors.New("amount absolute tolerance must not be negative")
	}
	if t.DateDays < 0 {
		return errors.New("date tolerance days must not be negative")
	}
	if t.FuzzyThreshold < 0 || t.FuzzyThreshold > 100 {
		return errors.New("fuzzy match threshold must be between 0 and 100")
	}
	return nil
}
