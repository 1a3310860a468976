// Package statistics builds the per-table statistics the in-process engine
// estimates selectivity from: per-column histograms and a multi-dimensional
// HTree histogram.
package statistics

import (
	"math"
	"time"
)

// Interval 闭区间 [Min, Max]
type Interval struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Unbounded 覆盖全部 int64 的区间
var Unbounded = Interval{Min: math.MinInt64, Max: math.MaxInt64}

// Empty 区间为空
func (iv Interval) Empty() bool {
	return iv.Min > iv.Max
}

// Contains 值是否落在区间内
func (iv Interval) Contains(v int64) bool {
	return iv.Min <= v && v <= iv.Max
}

// Overlaps 两个区间是否相交
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Min <= other.Max && other.Min <= iv.Max
}

// width 闭区间包含的整数个数
func width(lo, hi int64) float64 {
	return float64(hi) - float64(lo) + 1
}

// overlapProportion 桶区间 h 被查询区间 q 覆盖的比例，桶内按均匀分布处理
func overlapProportion(h, q Interval) float64 {
	left := max(h.Min, q.Min)
	right := min(h.Max, q.Max)
	if left > right {
		return 0
	}
	// 单值桶且该值在查询范围内
	if h.Min == h.Max {
		return 1
	}
	return width(left, right) / width(h.Min, h.Max)
}

// ColumnStatistics 列统计信息
type ColumnStatistics struct {
	Name          string `json:"name"`
	MinValue      int64  `json:"min_value"`
	MaxValue      int64  `json:"max_value"`
	DistinctCount int64  `json:"distinct_count"`
}

// TableStatistics 表统计信息
type TableStatistics struct {
	Name             string                       `json:"name"`
	Columns          []string                     `json:"columns"`
	RowCount         int64                        `json:"row_count"`
	SampleCount      int64                        `json:"sample_count"`
	SampleRatio      float64                      `json:"sample_ratio"`
	ColumnStats      map[string]*ColumnStatistics `json:"column_stats"`
	Histograms       map[string]*Histogram        `json:"histograms"`
	HTree            *HTree                       `json:"-"`
	CollectTimestamp time.Time                    `json:"collect_timestamp"`
}
