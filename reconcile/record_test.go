package reconcile_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/shopspring/decimal"
)

func TestNormalizeRecord_AllFields(t *testing.T) {
	when := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	record, err := reconcile.NormalizeRecord(map[string]interface{}{
		"transaction_id": "  tx-1  ",
		"reference":      " INV-9 ",
		"amount":         "120.50",
		"currency":       "MMK",
		"date":           when,
	})
	if err != nil {
		t.Fatalf("NormalizeRecord: %v", err)
	}
	if record.TransactionId != "tx-1" || record.Reference != "INV-9" {
		t.Fatalf("strings not trimmed: %+v", record)
	}
	if !record.Amount.Equal(decimal.RequireFromString("120.50")) {
		t.Fatalf("amount = %s", record.Amount)
	}
	if record.Currency != "MMK" {
		t.Fatalf("currency = %q", record.Currency)
	}
	if record.Date == nil || !record.Date.Equal(when) {
		t.Fatalf("date = %v", record.Date)
	}
}

func TestNormalizeRecord_MissingAmount(t *testing.T) {
	if _, err := reconcile.NormalizeRecord(map[string]interface{}{"reference": "INV-1"}); err == nil {
		t.Fatal("expected error for missing amount")
	}
	if _, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": nil}); err == nil {
		t.Fatal("expected error for nil amount")
	}
	if _, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": "not-a-number"}); err == nil {
		t.Fatal("expected error for unparseable amount")
	}
}

func TestNormalizeRecord_AmountTypes(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"decimal", decimal.RequireFromString("12.3400"), "12.34"},
		{"string", "99.99", "99.99"},
		{"float", 7.25, "7.25"},
		{"int", 40, "40"},
		{"json number", json.Number("1234.5"), "1234.5"},
	}
	for _, tc := range cases {
		record, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": tc.value})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !record.Amount.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("%s: amount = %s, want %s", tc.name, record.Amount, tc.want)
		}
	}
}

func TestNormalizeRecord_OptionalFieldsAbsent(t *testing.T) {
	record, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": "5"})
	if err != nil {
		t.Fatalf("NormalizeRecord: %v", err)
	}
	if record.TransactionId != "" || record.Reference != "" || record.Currency != "" || record.Date != nil {
		t.Fatalf("expected zero optional fields, got %+v", record)
	}
}

func TestNormalizeRecord_DateFormats(t *testing.T) {
	for _, raw := range []interface{}{
		"2026-03-15T10:30:00Z",
		"2026-03-15 10:30:00",
		"2026-03-15",
	} {
		record, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": "1", "date": raw})
		if err != nil {
			t.Fatalf("date %v: %v", raw, err)
		}
		if record.Date == nil {
			t.Fatalf("date %v: expected parsed date", raw)
		}
		if y, m, d := record.Date.Date(); y != 2026 || m != time.March || d != 15 {
			t.Fatalf("date %v parsed to %v", raw, record.Date)
		}
	}

	if _, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": "1", "date": "15/03/2026"}); err == nil {
		t.Fatal("expected error for unparseable date")
	}

	// An empty or zero date means no date, not an error.
	record, err := reconcile.NormalizeRecord(map[string]interface{}{"amount": "1", "date": ""})
	if err != nil || record.Date != nil {
		t.Fatalf("empty date: record=%+v err=%v", record, err)
	}
	record, err = reconcile.NormalizeRecord(map[string]interface{}{"amount": "1", "date": time.Time{}})
	if err != nil || record.Date != nil {
		t.Fatalf("zero date: record=%+v err=%v", record, err)
	}
}
