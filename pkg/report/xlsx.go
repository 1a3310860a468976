package report

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// 工作表名称
const (
	SummarySheet      = "Summary"
	MeasurementsSheet = "Measurements"
	FailuresSheet     = "Failures"
)

var (
	summaryHeader = []interface{}{
		"table", "dims", "table_rows", "queries", "dropped",
		"mean_relative_error", "normalized_absolute_error", "zero_true_count", "failed", "aborted",
		"baseline_table", "baseline_mean_relative_error", "baseline_normalized_absolute_error", "histogram_helps",
	}
	measurementHeader = []interface{}{
		"table", "query", "half_width", "center", "true_count",
		"estimated_selectivity", "estimated_count", "relative_error", "rule",
	}
	failureHeader = []interface{}{"table", "query", "message", "raw"}
)

// WriteXLSX 写出工作簿：汇总表、逐条测量表，以及存在失败时的失败表
func WriteXLSX(path string, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	if err := writeSummarySheet(f, r); err != nil {
		return err
	}
	if _, err := f.NewSheet(MeasurementsSheet); err != nil {
		return err
	}
	if err := writeMeasurementSheet(f, r); err != nil {
		return err
	}
	if hasFailures(r) {
		if _, err := f.NewSheet(FailuresSheet); err != nil {
			return err
		}
		if err := writeFailureSheet(f, r); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// setRow 从第 row 行 A 列开始写入一行
func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeSummarySheet(f *excelize.File, r *Report) error {
	if err := setRow(f, SummarySheet, 1, summaryHeader); err != nil {
		return err
	}
	for i, c := range r.Comparisons {
		s := c.Statistics
		row := []interface{}{
			s.Table, c.Dims, s.TableRows, c.Queries, len(c.Dropped),
			metricCell(s.Defined(), s.MeanRelativeError),
			metricCell(s.Defined(), s.NormalizedAbsoluteError),
			s.ZeroTrueCount, s.Failed, c.Aborted(),
		}
		if b := c.Baseline; b != nil {
			row = append(row, b.Table,
				metricCell(b.Defined(), b.MeanRelativeError),
				metricCell(b.Defined(), b.NormalizedAbsoluteError),
				c.HistogramHelps())
		}
		if err := setRow(f, SummarySheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// metricCell 未定义的指标留空
func metricCell(defined bool, v float64) interface{} {
	if !defined {
		return ""
	}
	return v
}

func writeMeasurementSheet(f *excelize.File, r *Report) error {
	if err := setRow(f, MeasurementsSheet, 1, measurementHeader); err != nil {
		return err
	}
	row := 2
	for _, run := range r.Runs {
		for _, m := range run.Measurements {
			rel, ok := m.RelativeError()
			values := []interface{}{
				run.Table, m.Query.ID, m.Query.HalfWidth, formatCenter(m.Query.Center), m.TrueCount,
				m.EstimatedSelectivity, m.EstimatedCount, metricCell(ok, rel), m.Rule,
			}
			if err := setRow(f, MeasurementsSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func writeFailureSheet(f *excelize.File, r *Report) error {
	if err := setRow(f, FailuresSheet, 1, failureHeader); err != nil {
		return err
	}
	row := 2
	for _, run := range r.Runs {
		for _, fail := range run.Failures {
			values := []interface{}{run.Table, fail.Query.ID, fail.Message, fail.Raw}
			if err := setRow(f, FailuresSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func hasFailures(r *Report) bool {
	for _, run := range r.Runs {
		if len(run.Failures) > 0 {
			return true
		}
	}
	return false
}

// formatCenter 以空格分隔的中心坐标
func formatCenter(center []int64) string {
	parts := make([]string, len(center))
	for i, v := range center {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, " ")
}
