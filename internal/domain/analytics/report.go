package analytics

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/healthmate/healthmate/internal/domain/healthdata"
)

const (
	sheetSummary  = "Summary"
	sheetDaily    = "Daily"
	sheetSymptoms = "Symptoms"
)

var (
	summaryHeaders = []string{"Metric", "Unit", "Count", "Mean", "Median", "Std Dev", "Min", "Max", "P25", "P75", "P90", "Trend", "Slope/Day"}
	dailyHeaders   = []string{"Metric", "Day", "Mean", "Count"}
	symptomHeaders = []string{"Symptom", "Count", "Avg Severity", "Max Severity", "Last Logged"}
)

// Report builds an XLSX workbook of the user's metrics and symptoms over
// the last days.
func (s *Service) Report(ctx context.Context, userID string, days int) ([]byte, error) {
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	var summaryRows, dailyRows [][]interface{}
	for _, metric := range healthdata.MetricTypes() {
		pts, err := s.points(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		st, tr := Describe(values(pts)), LinearTrend(pts)
		summaryRows = append(summaryRows, []interface{}{
			metric, healthdata.CanonicalUnit(metric), st.Count, st.Mean, st.Median, st.StdDev,
			st.Min, st.Max, st.P25, st.P75, st.P90, tr.Direction, tr.SlopePerDay,
		})
		for _, d := range DailyMeans(pts) {
			dailyRows = append(dailyRows, []interface{}{metric, d.Day, d.Mean, d.Count})
		}
	}
	logs, err := s.symptoms(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	var symptomRows [][]interface{}
	for _, f := range symptomFrequencies(logs) {
		symptomRows = append(symptomRows, []interface{}{f.Symptom, f.Count, f.AvgSeverity, f.MaxSeverity, f.LastLogged.UTC().Format("2006-01-02 15:04")})
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	sheets := []struct {
		name    string
		headers []string
		rows    [][]interface{}
	}{
		{sheetSummary, summaryHeaders, summaryRows},
		{sheetDaily, dailyHeaders, dailyRows},
		{sheetSymptoms, symptomHeaders, symptomRows},
	}
	for i, sh := range sheets {
		if i > 0 {
			if _, err := f.NewSheet(sh.name); err != nil {
				return nil, fmt.Errorf("creating sheet %s: %w", sh.name, err)
			}
		}
		if err := writeSheet(f, sh.name, sh.headers, sh.rows, header); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("writing %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}
