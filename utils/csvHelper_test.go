package utils_test

import (
	"strings"
	"testing"

	"github.com/mmdatafocus/members_backend/utils"
)

func TestBuildCsv(t *testing.T) {
	content, err := utils.BuildCsv(
		[]string{"Run Number", "Amount", "Status"},
		[][]string{
			{"RCN-1", "100.0000", "matched"},
			{"RCN-1", "55.5000", "unmatched_app"},
		},
	)
	if err != nil {
		t.Fatalf("BuildCsv: %v", err)
	}
	want := "Run Number,Amount,Status\nRCN-1,100.0000,matched\nRCN-1,55.5000,unmatched_app\n"
	if content != want {
		t.Fatalf("content = %q, want %q", content, want)
	}
}

func TestBuildCsv_QuotesSpecialCharacters(t *testing.T) {
	content, err := utils.BuildCsv(
		[]string{"reference"},
		[][]string{
			{`has "quotes"`},
			{"has,comma"},
			{"has\nnewline"},
		},
	)
	if err != nil {
		t.Fatalf("BuildCsv: %v", err)
	}
	for _, want := range []string{
		`"has ""quotes"""`,
		`"has,comma"`,
		"\"has\nnewline\"",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in output:\n%s", want, content)
		}
	}
}

func TestBuildCsv_HeaderOnly(t *testing.T) {
	content, err := utils.BuildCsv([]string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("BuildCsv: %v", err)
	}
	if content != "a,b\n" {
		t.Fatalf("content = %q", content)
	}
}
