package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is the canonical shape of one transaction from either source.
// Amount is required; every other field is optional.
type Record struct {
	TransactionId string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Date          *time.Time      `json:"date"`
}

// NormalizeRecord converts a raw field map into a canonical Record.
// Missing optional fields are fine; a missing or unparseable amount is an
// input error. No side effects.
func NormalizeRecord(raw map[string]interface{}) (Record, error) {
	var record Record

	rawAmount, ok := raw["amount"]
	if !ok || rawAmount == nil {
		return record, errors.New("record is missing required amount")
	}
	amount, err := toDecimal(rawAmount)
	if err != nil {
		return record, fmt.Errorf("invalid amount: %w", err)
	}
	record.Amount = amount

	record.TransactionId = toTrimmedString(raw["transaction_id"])
	record.Reference = toTrimmedString(raw["reference"])
	record.Currency = toTrimmedString(raw["currency"])

	if rawDate, ok := raw["date"]; ok && rawDate != nil {
		date, err := toDate(rawDate)
		if err != nil {
			return record, fmt.Errorf("invalid date: %w", err)
		}
		record.Date = date
	}

	return record, nil
}

func toTrimmedString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.TrimSpace(s)
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value, nil
	case *decimal.Decimal:
		if value == nil {
			return decimal.Zero, errors.New("amount is nil")
		}
		return *value, nil
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return decimal.Zero, errors.New("amount is empty")
		}
		return decimal.NewFromString(value)
	case float64:
		return decimal.NewFromFloat(value), nil
	case float32:
		return decimal.NewFromFloat32(value), nil
	case int:
		return decimal.NewFromInt(int64(value)), nil
	case int64:
		return decimal.NewFromInt(value), nil
	case json.Number:
		return decimal.NewFromString(value.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func toDate(v interface{}) (*time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		if value.IsZero() {
			return nil, nil
		}
		return &value, nil
	case *time.Time:
		if value == nil || value.IsZero() {
			return nil, nil
		}
		return value, nil
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return &t, nil
			}
		}
		return nil, fmt.Errorf("unparseable date %q", value)
	default:
		return nil, fmt.Errorf("unsupported date type %T", v)
	}
}
