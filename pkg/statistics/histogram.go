package statistics

import (
	"fmt"
	"sort"
)

// HistogramType 直方图类型
type HistogramType int

const (
	EquiDepthHistogram HistogramType = iota // 等深直方图
	EquiWidthHistogram                      // 等宽直方图
)

// ParseHistogramType 解析配置中的直方图类型
func ParseHistogramType(s string) (HistogramType, bool) {
	switch s {
	case "", "equi_depth":
		return EquiDepthHistogram, true
	case "equi_width":
		return EquiWidthHistogram, true
	default:
		return 0, false
	}
}

func (t HistogramType) String() string {
	switch t {
	case EquiWidthHistogram:
		return "Equi-Width"
	case EquiDepthHistogram:
		return "Equi-Depth"
	default:
		return "Unknown"
	}
}

// HistogramBucket 直方图桶
type HistogramBucket struct {
	LowerBound int64 `json:"lower_bound"`
	UpperBound int64 `json:"upper_bound"`
	Count      int64 `json:"count"`
	NDV        int64 `json:"ndv"` // 唯一值数
}

// Histogram 单列直方图
type Histogram struct {
	Type     HistogramType      `json:"type"`
	Buckets  []*HistogramBucket `json:"buckets"`
	MinValue int64              `json:"min_value"`
	MaxValue int64              `json:"max_value"`
	NDV      int64              `json:"ndv"` // 总唯一值数
	Count    int64              `json:"count"`
}

func sortedCopy(values []int64) []int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func countDistinct(sorted []int64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	n := int64(1)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			n++
		}
	}
	return n
}

// BuildEquiDepthHistogram 构建等深直方图，每桶行数相近
func BuildEquiDepthHistogram(values []int64, bucketCount int) *Histogram {
	hist := &Histogram{Type: EquiDepthHistogram, Buckets: []*HistogramBucket{}}
	if len(values) == 0 {
		return hist
	}
	if bucketCount <= 0 {
		bucketCount = 10
	}
	if bucketCount > len(values) {
		bucketCount = len(values)
	}

	sorted := sortedCopy(values)
	hist.MinValue = sorted[0]
	hist.MaxValue = sorted[len(sorted)-1]
	hist.NDV = countDistinct(sorted)
	hist.Count = int64(len(sorted))

	valuesPerBucket := float64(len(sorted)) / float64(bucketCount)
	for i := 0; i < bucketCount; i++ {
		start := int(float64(i) * valuesPerBucket)
		end := int(float64(i+1) * valuesPerBucket)
		if end > len(sorted) {
			end = len(sorted)
		}
		bucketValues := sorted[start:end]
		if len(bucketValues) == 0 {
			continue
		}
		hist.Buckets = append(hist.Buckets, &HistogramBucket{
			LowerBound: bucketValues[0],
			UpperBound: bucketValues[len(bucketValues)-1],
			Count:      int64(len(bucketValues)),
			NDV:        countDistinct(bucketValues),
		})
	}
	return hist
}

// BuildEquiWidthHistogram 构建等宽直方图，值域均分为 bucketCount 段
func BuildEquiWidthHistogram(values []int64, bucketCount int) *Histogram {
	hist := &Histogram{Type: EquiWidthHistogram, Buckets: []*HistogramBucket{}}
	if len(values) == 0 {
		return hist
	}
	if bucketCount <= 0 {
		bucketCount = 10
	}

	sorted := sortedCopy(values)
	hist.MinValue = sorted[0]
	hist.MaxValue = sorted[len(sorted)-1]
	hist.NDV = countDistinct(sorted)
	hist.Count = int64(len(sorted))

	span := width(hist.MinValue, hist.MaxValue)
	if span < float64(bucketCount) {
		bucketCount = int(span)
	}
	step := span / float64(bucketCount)

	idx := 0
	for i := 0; i < bucketCount; i++ {
		lower := hist.MinValue + int64(float64(i)*step)
		upper := hist.MinValue + int64(float64(i+1)*step) - 1
		if i == bucketCount-1 {
			upper = hist.MaxValue
		}
		start := idx
		for idx < len(sorted) && sorted[idx] <= upper {
			idx++
		}
		bucketValues := sorted[start:idx]
		hist.Buckets = append(hist.Buckets, &HistogramBucket{
			LowerBound: lower,
			UpperBound: upper,
			Count:      int64(len(bucketValues)),
			NDV:        countDistinct(bucketValues),
		})
	}
	return hist
}

// EstimateRangeSelectivity 估算闭区间 [lo, hi] 的选择率，桶内按均匀分布插值
func (h *Histogram) EstimateRangeSelectivity(q Interval) float64 {
	if h == nil || h.Count == 0 || q.Empty() {
		return 0
	}
	var rows float64
	for _, b := range h.Buckets {
		if b.Count == 0 {
			continue
		}
		rows += float64(b.Count) * overlapProportion(Interval{Min: b.LowerBound, Max: b.UpperBound}, q)
	}
	return rows / float64(h.Count)
}

// Explain 返回直方图的描述
func (h *Histogram) Explain() string {
	if h == nil {
		return "Empty Histogram"
	}
	return fmt.Sprintf("Histogram(type=%s, buckets=%d, ndv=%d, min=%d, max=%d)",
		h.Type, len(h.Buckets), h.NDV, h.MinValue, h.MaxValue)
}
