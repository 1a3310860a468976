// Package querygen samples conjunctive range queries whose box volume is a
// fixed fraction of the data domain, independent of dimensionality.
package querygen

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/kasuganosora/cardbench/pkg/datagen"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/schema"
)

// SamplingMode 查询中心的采样方式
type SamplingMode string

const (
	// SamplingGaussian 各维独立正态分布
	SamplingGaussian SamplingMode = "gaussian"
	// SamplingUniform 在 [low, high]^d 上均匀分布
	SamplingUniform SamplingMode = "uniform"
)

// rootTolerance 校正浮点开方误差时的相对容差
const rootTolerance = 1e-12

// HalfWidth 计算 h = floor(((high-low)^d * c)^(1/d) / 2)
//
// 浮点开方可能落在整数边界的错误一侧，结果按 (2h)^d <= (high-low)^d * c 校正。
func HalfWidth(dims int, low, high int64, fraction float64) (int64, error) {
	if dims < 1 {
		return 0, domain.InvalidParameters("dimensionality must be >= 1, got %d", dims)
	}
	if low >= high {
		return 0, domain.InvalidParameters("domain low (%d) must be < high (%d)", low, high)
	}
	if !(fraction > 0) || fraction > 1 {
		return 0, domain.InvalidParameters("selectivity fraction must be within (0,1], got %v", fraction)
	}

	span := float64(high - low)
	d := float64(dims)
	volume := math.Pow(span, d) * fraction

	var side float64
	if math.IsInf(volume, 0) {
		side = math.Exp((d*math.Log(span) + math.Log(fraction)) / d)
	} else {
		side = math.Pow(volume, 1/d)
	}
	h := int64(math.Floor(side / 2))

	// 以对数比较避免高维时溢出
	fits := func(h int64) bool {
		if h <= 0 {
			return true
		}
		lhs := d * math.Log(float64(2*h))
		rhs := d*math.Log(span) + math.Log(fraction)
		return lhs <= rhs+rootTolerance*math.Abs(rhs)
	}
	for fits(h + 1) {
		h++
	}
	for h > 0 && !fits(h) {
		h--
	}

	if h < 1 {
		return 0, domain.InvalidParameters(
			"half-width rounds to %d for d=%d, domain [%d,%d], fraction %v", h, dims, low, high, fraction)
	}
	return h, nil
}

// VolumeFraction 实际框体积占值域体积的比例 (2h)^d / (high-low)^d
func VolumeFraction(dims int, halfWidth, low, high int64) float64 {
	return math.Pow(float64(2*halfWidth)/float64(high-low), float64(dims))
}

// Params 查询生成参数
type Params struct {
	Table    string
	Dims     int
	Low      int64
	High     int64
	Fraction float64
	Count    int
	Sampling SamplingMode
	// CenterMean 正态采样的均值，各维相同
	CenterMean   float64
	CenterStdDev float64
	Quantize     datagen.QuantizeMode
	Seed         int64
}

func (p *Params) validate() error {
	if p.Table == "" {
		return domain.InvalidParameters("table name must not be empty")
	}
	if p.Count < 1 {
		return domain.InvalidParameters("query count must be >= 1, got %d", p.Count)
	}
	switch p.Sampling {
	case SamplingGaussian:
		if !(p.CenterStdDev > 0) {
			return domain.InvalidParameters("center stddev must be > 0 for gaussian sampling, got %v", p.CenterStdDev)
		}
	case SamplingUniform:
	default:
		return domain.InvalidParameters("unknown center sampling mode %q", p.Sampling)
	}
	if _, err := datagen.ParseQuantizeMode(string(p.Quantize)); err != nil {
		return err
	}
	return nil
}

// Generate 生成 Count 个查询，同一 Seed 结果相同
func Generate(p Params) ([]*domain.Query, error) {
	h, err := HalfWidth(p.Dims, p.Low, p.High, p.Fraction)
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	quantize, _ := datagen.ParseQuantizeMode(string(p.Quantize))

	columns := schema.ColumnNames(p.Dims)
	rng := rand.New(rand.NewSource(p.Seed))
	span := float64(p.High - p.Low)

	queries := make([]*domain.Query, p.Count)
	for i := range queries {
		center := make([]int64, p.Dims)
		for j := range center {
			var v float64
			if p.Sampling == SamplingUniform {
				v = float64(p.Low) + rng.Float64()*span
			} else {
				v = p.CenterMean + p.CenterStdDev*rng.NormFloat64()
			}
			center[j] = quantize.Apply(v)
		}
		queries[i] = &domain.Query{
			ID:        i,
			Table:     p.Table,
			Columns:   columns,
			Center:    center,
			HalfWidth: h,
			SQL:       Render(p.Table, columns, center, h),
		}
	}
	return queries, nil
}

// Render 渲染 SELECT * FROM t WHERE x > lo AND x < hi AND ...
func Render(table string, columns []string, center []int64, halfWidth int64) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(table)
	sb.WriteString(" WHERE ")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(col)
		sb.WriteString(" > ")
		sb.WriteString(strconv.FormatInt(center[i]-halfWidth, 10))
		sb.WriteString(" AND ")
		sb.WriteString(col)
		sb.WriteString(" < ")
		sb.WriteString(strconv.FormatInt(center[i]+halfWidth, 10))
	}
	return sb.String()
}

// Retarget 将同一组查询（相同中心与半宽）改写到另一张表，通常是基线表
func Retarget(queries []*domain.Query, table string) []*domain.Query {
	out := make([]*domain.Query, len(queries))
	for i, q := range queries {
		cp := *q
		cp.Table = table
		cp.Center = append([]int64(nil), q.Center...)
		cp.SQL = Render(table, q.Columns, q.Center, q.HalfWidth)
		out[i] = &cp
	}
	return out
}
