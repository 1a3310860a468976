// Package report renders aggregated results as a console table, a JSON
// document that can be re-rendered later, and an XLSX workbook.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kasuganosora/cardbench/pkg/aggregate"
	"github.com/kasuganosora/cardbench/pkg/domain"
)

// 支持的报告格式
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatXLSX  = "xlsx"
)

// Report 一次运行的完整结果
type Report struct {
	RunID       string                  `json:"run_id"`
	CreatedAt   time.Time               `json:"created_at"`
	Engine      string                  `json:"engine"`
	Parser      string                  `json:"parser"`
	Comparisons []*aggregate.Comparison `json:"comparisons"`
	Runs        []*domain.RunResult     `json:"runs"`
}

var printer = message.NewPrinter(language.English)

// WriteTable 输出对齐的汇总表
func WriteTable(w io.Writer, comparisons []*aggregate.Comparison) error {
	tw := tabwriter.NewWriter(w, 1, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tDIMS\tROWS\tQUERIES\tDROPPED\tMEAN REL ERR\tNORM ABS ERR\tZERO TRUE\tFAILED\tABORTED\tBASELINE MRE\tBASELINE NAE\tHISTOGRAM HELPS")

	for _, c := range comparisons {
		s := c.Statistics
		baseMRE, baseNAE, helps := "-", "-", "-"
		if c.Baseline != nil {
			baseMRE = formatMetric(c.Baseline, c.Baseline.MeanRelativeError)
			baseNAE = formatMetric(c.Baseline, c.Baseline.NormalizedAbsoluteError)
			helps = fmt.Sprintf("%t", c.HistogramHelps())
		}
		printer.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%d\t%d\t%t\t%s\t%s\t%s\n",
			s.Table, c.Dims, s.TableRows, c.Queries, len(c.Dropped),
			formatMetric(s, s.MeanRelativeError),
			formatMetric(s, s.NormalizedAbsoluteError),
			s.ZeroTrueCount, s.Failed, c.Aborted(),
			baseMRE, baseNAE, helps)
	}
	return tw.Flush()
}

// formatMetric 没有可汇总的查询时输出 n/a
func formatMetric(s *aggregate.Summary, v float64) string {
	if !s.Defined() {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

// WriteJSON 以缩进 JSON 写出报告
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON 读取 WriteJSON 写出的报告
func ReadJSON(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeInvalidParameters, "decode report")
	}
	return &rep, nil
}

// ReadFile 从文件读取报告
func ReadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// WriteFiles 按格式把报告写到 dir，返回写出的文件路径；table 格式写到 console
func WriteFiles(dir string, formats []string, r *Report, console io.Writer) ([]string, error) {
	var written []string
	for _, format := range formats {
		switch format {
		case FormatTable:
			if err := WriteTable(console, r.Comparisons); err != nil {
				return written, err
			}
		case FormatJSON:
			path := filepath.Join(dir, fileName(r, "json"))
			if err := writeJSONFile(path, r); err != nil {
				return written, err
			}
			written = append(written, path)
		case FormatXLSX:
			path := filepath.Join(dir, fileName(r, "xlsx"))
			if err := WriteXLSX(path, r); err != nil {
				return written, err
			}
			written = append(written, path)
		default:
			return written, domain.Errorf(domain.ErrCodeNotSupported, "unknown report format %q", format)
		}
	}
	return written, nil
}

func fileName(r *Report, ext string) string {
	if r.RunID == "" {
		return "cardbench." + ext
	}
	return fmt.Sprintf("cardbench-%s.%s", r.RunID, ext)
}

func writeJSONFile(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
