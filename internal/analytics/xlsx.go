package analytics

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
)

const (
	episodeSheet = "Episodes"
	summarySheet = "Summary"
)

// WriteXLSX writes a workbook with every finished episode and the summary.
func WriteXLSX(w io.Writer, recs []episodelog.Record, s Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", episodeSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFE4C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	headers := []string{"Timestamp", "Duration (s)", "Mode"}
	for col, h := range headers {
		if err := setCell(f, episodeSheet, col+1, 1, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(episodeSheet, "A1", "C1", headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}
	if err := f.SetColWidth(episodeSheet, "A", "A", 22); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	for i, ep := range Episodes(recs, s.Mode) {
		row := i + 2
		values := []any{ep.Timestamp.Format(episodelog.TimeLayout), ep.Duration, ep.Mode}
		for col, v := range values {
			if err := setCell(f, episodeSheet, col+1, row, v); err != nil {
				return err
			}
		}
	}

	rows := [][]any{
		{"Mode", modeLabel(s.Mode)},
		{"Count", s.Count},
		{"Mean (s)", s.Mean},
		{"Min (s)", s.Min},
		{"Max (s)", s.Max},
		{"Std dev (s)", s.StdDev},
		{"Trend", s.TrendLabel()},
	}
	for i, r := range rows {
		for col, v := range r {
			if err := setCell(f, summarySheet, col+1, i+1, v); err != nil {
				return err
			}
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), headerStyle); err != nil {
		return fmt.Errorf("set summary style: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func modeLabel(mode string) string {
	if mode == "" {
		return "all"
	}
	return mode
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s!%s: %w", sheet, cell, err)
	}
	return nil
}
