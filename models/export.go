package models

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmdatafocus/members_backend/utils"
	"github.com/xuri/excelize/v2"
)

var runItemExportHeaders = []string{
	"Run Number", "Source", "Transaction Id", "Reference",
	"Amount", "Currency", "Transaction Date", "Status", "Match Ref",
}

func runItemExportRow(run *ReconciliationRun, item *ReconciliationItem) []string {
	date := ""
	if item.TransactionDate != nil {
		date = item.TransactionDate.UTC().Format("2006-01-02")
	}
	return []string{
		run.RunNumber,
		string(item.Source),
		item.TransactionId,
		item.Reference,
		item.Amount.StringFixed(4),
		item.Currency,
		date,
		string(item.Status),
		utils.DereferencePtr(item.MatchRef),
	}
}

// ExportRunItemsCsv renders a run's items as CSV. Returns the file content
// and the suggested download filename.
func ExportRunItemsCsv(ctx context.Context, runId int, status *ItemStatus) (string, string, error) {
	run, err := GetRunById(ctx, runId)
	if err != nil {
		return "", "", err
	}
	items, err := GetRunItems(ctx, runId, status)
	if err != nil {
		return "", "", err
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, runItemExportRow(run, item))
	}
	content, err := utils.BuildCsv(runItemExportHeaders, rows)
	if err != nil {
		return "", "", err
	}
	return content, fmt.Sprintf("reconciliation_%s.csv", run.RunNumber), nil
}

// ExportRunItemsXlsx renders a run's items as an Excel workbook.
func ExportRunItemsXlsx(ctx context.Context, runId int, status *ItemStatus) (*bytes.Buffer, string, error) {
	run, err := GetRunById(ctx, runId)
	if err != nil {
		return nil, "", err
	}
	items, err := GetRunItems(ctx, runId, status)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Items"
	f.SetSheetName("Sheet1", sheet)

	for col, header := range runItemExportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, "", err
		}
	}
	for rowIdx, item := range items {
		for col, value := range runItemExportRow(run, item) {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, "", err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf, fmt.Sprintf("reconciliation_%s.xlsx", run.RunNumber), nil
}
