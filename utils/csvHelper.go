package utils

import (
	"encoding/csv"
	"strings"
)

// BuildCsv renders a header row plus data rows as an RFC 4180 CSV string.
// Pure formatting only; callers handle writing to a response or file.
func BuildCsv(headers []string, rows [][]string) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(headers); err != nil {
		return "", err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
