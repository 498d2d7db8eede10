package reconcile

import (
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchRule identifies which priority rule paired two records.
type MatchRule string

const (
	MatchRuleTransactionId  MatchRule = "transaction_id"
	MatchRuleReference      MatchRule = "reference"
	MatchRuleFuzzyReference MatchRule = "fuzzy_reference"
	MatchRuleAmountDate     MatchRule = "amount_date"
)

type MatchedPair struct {
	App      Record    `json:"app"`
	Gateway  Record    `json:"gateway"`
	MatchRef string    `json:"match_ref"`
	Rule     MatchRule `json:"rule"`
}

type MatchResult struct {
	Pairs            []MatchedPair `json:"pairs"`
	UnmatchedApp     []Record      `json:"unmatched_app"`
	UnmatchedGateway []Record      `json:"unmatched_gateway"`
}

// Engine pairs app-side ledger records with gateway-side records.
// It is stateless and safe for concurrent use across runs; tolerance is an
// explicit argument so runs are reproducible.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Match runs the greedy, one-to-one, priority-ordered matching algorithm.
//
// App records are processed in input order. For each one the remaining
// gateway pool is searched rule by rule, stopping at the first rule that
// yields a candidate; ties go to the first candidate in pool order. Paired
// gateway records leave the pool, so no gateway record is ever paired twice.
//
// Rule priority:
//  1. exact transaction id (authoritative; amount and date are not checked)
//  2. exact reference + amount within tolerance (date is not checked)
//  3. fuzzy reference >= threshold + amount within tolerance + date within
//     tolerance when both dates are present
//  4. no id and no reference on either side + exactly equal amount + date
//     within tolerance when both dates are present
//
// This is intentionally a greedy heuristic rather than an optimal
// assignment: audits need reproducible, explainable pairings.
func (e *Engine) Match(appRecords []Record, gatewayRecords []Record, tolerance ToleranceConfig) (MatchResult, error) {
	if err := tolerance.Validate(); err != nil {
		return MatchResult{}, err
	}

	result := MatchResult{
		Pairs:            make([]MatchedPair, 0, len(appRecords)),
		UnmatchedApp:     make([]Record, 0),
		UnmatchedGateway: make([]Record, 0),
	}

	paired := make([]bool, len(gatewayRecords))

	for _, app := range appRecords {
		cand := e.findCandidate(app, gatewayRecords, paired, tolerance)
		if cand.index < 0 {
			result.UnmatchedApp = append(result.UnmatchedApp, app)
			continue
		}
		paired[cand.index] = true
		result.Pairs = append(result.Pairs, MatchedPair{
			App:      app,
			Gateway:  gatewayRecords[cand.index],
			MatchRef: uuid.NewString(),
			Rule:     cand.rule,
		})
	}

	for i, gateway := range gatewayRecords {
		if !paired[i] {
			result.UnmatchedGateway = append(result.UnmatchedGateway, gateway)
		}
	}

	return result, nil
}

type candidate struct {
	index int
	rule  MatchRule
}

// findCandidate scans the remaining pool once per rule, in priority order.
func (e *Engine) findCandidate(app Record, pool []Record, paired []bool, tolerance ToleranceConfig) candidate {
	for i, gateway := range pool {
		if paired[i] {
			continue
		}
		if matchesByTransactionId(app, gateway) {
			return candidate{index: i, rule: MatchRuleTransactionId}
		}
	}

	for i, gateway := range pool {
		if paired[i] {
			continue
		}
		if matchesByReference(app, gateway, tolerance) {
			return candidate{index: i, rule: MatchRuleReference}
		}
	}

	if tolerance.FuzzyThreshold > 0 {
		for i, gateway := range pool {
			if paired[i] {
				continue
			}
			if matchesByFuzzyReference(app, gateway, tolerance) {
				return candidate{index: i, rule: MatchRuleFuzzyReference}
			}
		}
	}

	for i, gateway := range pool {
		if paired[i] {
			continue
		}
		if matchesByAmountAndDate(app, gateway, tolerance) {
			return candidate{index: i, rule: MatchRuleAmountDate}
		}
	}

	return candidate{index: -1}
}

// Rule 1: a shared transaction id is authoritative.
func matchesByTransactionId(app, gateway Record) bool {
	return app.TransactionId != "" && gateway.TransactionId != "" &&
		app.TransactionId == gateway.TransactionId
}

// Rule 2: equal references with the amount inside tolerance. The date is
// intentionally not checked here.
func matchesByReference(app, gateway Record, tolerance ToleranceConfig) bool {
	if app.Reference == "" || gateway.Reference == "" {
		return false
	}
	if app.Reference != gateway.Reference {
		return false
	}
	return amountWithinTolerance(app.Amount, gateway.Amount, tolerance)
}

// Rule 3: similar references, amount inside tolerance, dates inside
// tolerance when both are present.
func matchesByFuzzyReference(app, gateway Record, tolerance ToleranceConfig) bool {
	if tolerance.FuzzyThreshold <= 0 {
		return false
	}
	if app.Reference == "" || gateway.Reference == "" {
		return false
	}
	if SimilarityScore(app.Reference, gateway.Reference) < tolerance.FuzzyThreshold {
		return false
	}
	if !amountWithinTolerance(app.Amount, gateway.Amount, tolerance) {
		return false
	}
	return dateWithinTolerance(app.Date, gateway.Date, tolerance.DateDays)
}

// Rule 4: identifier-less fallback. Only when neither side carries a
// transaction id or a reference; amounts must be exactly equal.
func matchesByAmountAndDate(app, gateway Record, tolerance ToleranceConfig) bool {
	if app.TransactionId != "" || gateway.TransactionId != "" {
		return false
	}
	if app.Reference != "" || gateway.Reference != "" {
		return false
	}
	if !app.Amount.Equal(gateway.Amount) {
		return false
	}
	return dateWithinTolerance(app.Date, gateway.Date, tolerance.DateDays)
}

// amountWithinTolerance passes when the amounts are equal, or when the
// difference satisfies the percentage OR the absolute tolerance.
func amountWithinTolerance(appAmount, gatewayAmount decimal.Decimal, tolerance ToleranceConfig) bool {
	if appAmount.Equal(gatewayAmount) {
		return true
	}
	diff := appAmount.Sub(gatewayAmount).Abs()
	if tolerance.AmountPercent.IsPositive() {
		// Drift is measured against the app-side amount: the ledger is the
		// reference side.
		if diff.LessThanOrEqual(appAmount.Abs().Mul(tolerance.AmountPercent)) {
			return true
		}
	}
	if tolerance.AmountAbsolute.IsPositive() {
		if diff.LessThanOrEqual(tolerance.AmountAbsolute) {
			return true
		}
	}
	return false
}

// dateWithinTolerance treats a missing date on either side as satisfied.
func dateWithinTolerance(appDate, gatewayDate *time.Time, days int) bool {
	if appDate == nil || gatewayDate == nil {
		return true
	}
	a := appDate.UTC().Truncate(24 * time.Hour)
	b := gatewayDate.UTC().Truncate(24 * time.Hour)
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff/(24*time.Hour)) <= days
}

// SimilarityScore returns an edit-distance-based percentage (0-100) between
// two reference strings. 100 means identical.
func SimilarityScore(a, b string) int {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 100
	}
	distance := levenshtein.ComputeDistance(a, b)
	score := (1.0 - float64(distance)/float64(longest)) * 100
	if score < 0 {
		return 0
	}
	return int(score)
}
