package statistics

import (
	"fmt"
)

// EstimatorMode 有统计信息时的估算方式
type EstimatorMode string

const (
	// ModeHTree 多维直方图联合估算
	ModeHTree EstimatorMode = "htree"
	// ModeIndependent 单列直方图相乘（属性独立假设）
	ModeIndependent EstimatorMode = "independent"
)

// 估算来源
const (
	SourceHTree     = "htree"
	SourceHistogram = "histogram"
	SourceDefault   = "default"
)

// Filter 单列比较谓词
type Filter struct {
	Field    string
	Operator string
	Value    int64
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %d", f.Field, f.Operator, f.Value)
}

// Estimate 一次选择率估算的结果
type Estimate struct {
	Selectivity float64
	Source      string
}

// CardinalityEstimator 基数估算器
type CardinalityEstimator struct {
	statsCache *StatisticsCache
	mode       EstimatorMode
}

// NewCardinalityEstimator 创建基数估算器
func NewCardinalityEstimator(cache *StatisticsCache, mode EstimatorMode) *CardinalityEstimator {
	return &CardinalityEstimator{statsCache: cache, mode: mode}
}

// GetStatistics 获取统计信息
func (e *CardinalityEstimator) GetStatistics(tableName string) (*TableStatistics, error) {
	stats, ok := e.statsCache.Get(tableName)
	if !ok {
		return nil, fmt.Errorf("statistics not found for table: %s", tableName)
	}
	return stats, nil
}

// EstimateSelectivity 估算合取谓词的选择率
func (e *CardinalityEstimator) EstimateSelectivity(tableName string, filters []Filter) Estimate {
	if len(filters) == 0 {
		return Estimate{Selectivity: 1, Source: SourceDefault}
	}

	stats, err := e.GetStatistics(tableName)
	if err != nil {
		// 没有统计信息时使用默认选择率，AND 条件相乘
		sel := 1.0
		for _, f := range filters {
			sel *= getDefaultSelectivity(f.Operator)
		}
		return Estimate{Selectivity: sel, Source: SourceDefault}
	}

	box, ok := FiltersToBox(stats.Columns, filters)
	if !ok {
		return Estimate{Selectivity: 0, Source: e.source(stats)}
	}

	if e.mode == ModeHTree && stats.HTree != nil {
		return Estimate{Selectivity: stats.HTree.EstimateSelectivity(box), Source: SourceHTree}
	}

	sel := 1.0
	for i, col := range stats.Columns {
		if box[i] == Unbounded {
			continue
		}
		hist, exists := stats.Histograms[col]
		if !exists {
			sel *= getDefaultSelectivity(">")
			continue
		}
		sel *= hist.EstimateRangeSelectivity(box[i])
	}
	return Estimate{Selectivity: sel, Source: SourceHistogram}
}

func (e *CardinalityEstimator) source(stats *TableStatistics) string {
	if e.mode == ModeHTree && stats.HTree != nil {
		return SourceHTree
	}
	return SourceHistogram
}

// FiltersToBox 将谓词收敛为每列的闭区间；某列区间为空时返回 false
func FiltersToBox(columns []string, filters []Filter) ([]Interval, bool) {
	box := make([]Interval, len(columns))
	for i := range box {
		box[i] = Unbounded
	}
	for _, f := range filters {
		idx := -1
		for i, col := range columns {
			if col == f.Field {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		iv := &box[idx]
		switch f.Operator {
		case ">":
			iv.Min = max(iv.Min, f.Value+1)
		case ">=":
			iv.Min = max(iv.Min, f.Value)
		case "<":
			iv.Max = min(iv.Max, f.Value-1)
		case "<=":
			iv.Max = min(iv.Max, f.Value)
		case "=":
			iv.Min = max(iv.Min, f.Value)
			iv.Max = min(iv.Max, f.Value)
		}
	}
	for _, iv := range box {
		if iv.Empty() {
			return box, false
		}
	}
	return box, true
}

// getDefaultSelectivity 获取默认选择率
func getDefaultSelectivity(operator string) float64 {
	switch operator {
	case "=":
		return 0.1 // 等值查询：10%
	case "!=":
		return 0.9 // 不等值查询：90%
	case ">", ">=", "<", "<=":
		return 0.3 // 范围查询：30%
	default:
		return 0.5 // 默认：50%
	}
}
