package datagen

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Dataset 行优先存储的整数元组
type Dataset struct {
	Dims   int
	Values []int64
}

// Len 返回行数
func (ds *Dataset) Len() int {
	if ds.Dims == 0 {
		return 0
	}
	return len(ds.Values) / ds.Dims
}

// Row 返回第 i 行的视图，调用方不应修改
func (ds *Dataset) Row(i int) []int64 {
	return ds.Values[i*ds.Dims : (i+1)*ds.Dims]
}

// Column 复制第 j 列
func (ds *Dataset) Column(j int) []int64 {
	n := ds.Len()
	col := make([]int64, n)
	for i := 0; i < n; i++ {
		col[i] = ds.Values[i*ds.Dims+j]
	}
	return col
}

// CountInBox 统计严格落在 (center-h, center+h) 各维开区间内的行数
func (ds *Dataset) CountInBox(center []int64, halfWidth int64) int64 {
	var count int64
	n := ds.Len()
rows:
	for i := 0; i < n; i++ {
		row := ds.Row(i)
		for j, c := range center {
			if row[j] <= c-halfWidth || row[j] >= c+halfWidth {
				continue rows
			}
		}
		count++
	}
	return count
}

// validateDelimiter 分隔符不能与整数文本或行结构冲突
func validateDelimiter(delim rune) error {
	if delim == '-' || delim == '+' || delim == '"' || delim == '\r' || delim == '\n' ||
		delim == utf8.RuneError || unicode.IsDigit(delim) {
		return domain.InvalidParameters("delimiter %q conflicts with integer text", delim)
	}
	return nil
}

// WriteTo 每行一个元组，字段之间用 delim 分隔，无表头、无引号
func (ds *Dataset) WriteTo(w io.Writer, delim rune) (int64, error) {
	if err := validateDelimiter(delim); err != nil {
		return 0, err
	}
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 1<<16)
	writer := csv.NewWriter(bw)
	writer.Comma = delim

	record := make([]string, ds.Dims)
	buf := make([]byte, 0, 24*ds.Dims)
	n := ds.Len()
	for i := 0; i < n; i++ {
		buf = buf[:0]
		for j, v := range ds.Row(i) {
			start := len(buf)
			buf = strconv.AppendInt(buf, v, 10)
			record[j] = string(buf[start:])
		}
		if err := writer.Write(record); err != nil {
			return cw.n, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// WriteFile 导出到文件，自动创建父目录
func (ds *Dataset) WriteFile(path string, delim rune) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := ds.WriteTo(f, delim); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Read 解析 WriteTo 的输出，每行必须恰好 dims 个字段
func Read(r io.Reader, dims int, delim rune) (*Dataset, error) {
	if dims < 1 {
		return nil, domain.InvalidParameters("dimensionality must be >= 1, got %d", dims)
	}
	if err := validateDelimiter(delim); err != nil {
		return nil, err
	}
	reader := csv.NewReader(bufio.NewReaderSize(r, 1<<16))
	reader.Comma = delim
	reader.FieldsPerRecord = dims
	reader.ReuseRecord = true

	ds := &Dataset{Dims: dims}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.WrapError(err, domain.ErrCodeInvalidParameters, "malformed data file")
		}
		for _, field := range record {
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, domain.Errorf(domain.ErrCodeInvalidParameters, "line %d: invalid integer %q", line, field)
			}
			ds.Values = append(ds.Values, v)
		}
	}
	return ds, nil
}

// ReadFile 读取导出文件
func ReadFile(path string, dims int, delim rune) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, dims, delim)
}

// SampleCorrelation 第 i、j 两列的 Pearson 样本相关系数
func (ds *Dataset) SampleCorrelation(i, j int) float64 {
	n := ds.Len()
	if n < 2 {
		return math.NaN()
	}
	var sumX, sumY float64
	for r := 0; r < n; r++ {
		sumX += float64(ds.Values[r*ds.Dims+i])
		sumY += float64(ds.Values[r*ds.Dims+j])
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var sxx, syy, sxy float64
	for r := 0; r < n; r++ {
		dx := float64(ds.Values[r*ds.Dims+i]) - meanX
		dy := float64(ds.Values[r*ds.Dims+j]) - meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
