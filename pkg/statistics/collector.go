package statistics

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RowSource 统计收集所需的表访问能力
type RowSource interface {
	Columns(tableName string) ([]string, error)
	Scan(ctx context.Context, tableName string, fn func(row []int64) error) error
}

// CollectorOptions 收集参数
type CollectorOptions struct {
	// SampleRate 伯努利采样率 (0,1]
	SampleRate float64
	// MaxRows 样本上限，超过后改为蓄水池采样；0 表示不限
	MaxRows int64
	// BucketsPerDim 单列直方图桶数，同时是 HTree 每个属性的分段数
	BucketsPerDim int
	// BuildHTree 是否构建多维直方图
	BuildHTree bool
	// Histogram 单列直方图类型，默认等深
	Histogram HistogramType
	Seed      int64
}

// SamplingCollector 采样统计收集器
type SamplingCollector struct {
	opts   CollectorOptions
	logger logrus.FieldLogger
}

// NewSamplingCollector 创建采样收集器
func NewSamplingCollector(opts CollectorOptions, logger logrus.FieldLogger) *SamplingCollector {
	if opts.SampleRate <= 0 || opts.SampleRate > 1 {
		opts.SampleRate = 1
	}
	if opts.BucketsPerDim <= 0 {
		opts.BucketsPerDim = 10
	}
	return &SamplingCollector{opts: opts, logger: logger}
}

// CollectStatistics 扫描表并从样本构建统计信息
func (sc *SamplingCollector) CollectStatistics(ctx context.Context, source RowSource, tableName string) (*TableStatistics, error) {
	columns, err := source.Columns(tableName)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(sc.opts.Seed))
	var total int64
	var sample [][]int64
	var kept int64

	err = source.Scan(ctx, tableName, func(row []int64) error {
		total++
		if sc.opts.SampleRate < 1 && rng.Float64() >= sc.opts.SampleRate {
			return nil
		}
		kept++
		if sc.opts.MaxRows <= 0 || int64(len(sample)) < sc.opts.MaxRows {
			sample = append(sample, append([]int64(nil), row...))
			return nil
		}
		// 蓄水池采样
		if j := rng.Int63n(kept); j < sc.opts.MaxRows {
			copy(sample[j], row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", tableName, err)
	}

	stats := sc.calculateStatisticsFromSample(tableName, columns, sample, total)
	if sc.opts.BuildHTree && len(sample) > 0 {
		buckets := make([]int, len(columns))
		for i := range buckets {
			buckets[i] = sc.opts.BucketsPerDim
		}
		tree, err := BuildHTree(sample, buckets)
		if err != nil {
			return nil, err
		}
		stats.HTree = tree
	}

	fields := logrus.Fields{
		"table":  tableName,
		"rows":   total,
		"sample": len(sample),
		"htree":  stats.HTree.Explain(),
	}
	if len(columns) > 0 {
		fields["histogram"] = stats.Histograms[columns[0]].Explain()
	}
	sc.logger.WithFields(fields).Debug("collected statistics")
	return stats, nil
}

// calculateStatisticsFromSample 从样本计算统计信息
func (sc *SamplingCollector) calculateStatisticsFromSample(tableName string, columns []string, sample [][]int64, totalRowCount int64) *TableStatistics {
	sampleCount := int64(len(sample))
	sampleRatio := 1.0
	if totalRowCount > 0 {
		sampleRatio = float64(sampleCount) / float64(totalRowCount)
	}

	stats := &TableStatistics{
		Name:             tableName,
		Columns:          columns,
		RowCount:         totalRowCount,
		SampleCount:      sampleCount,
		SampleRatio:      sampleRatio,
		ColumnStats:      make(map[string]*ColumnStatistics, len(columns)),
		Histograms:       make(map[string]*Histogram, len(columns)),
		CollectTimestamp: time.Now(),
	}
	if sampleCount == 0 {
		return stats
	}

	values := make([]int64, sampleCount)
	for i, name := range columns {
		for r, row := range sample {
			values[r] = row[i]
		}
		var hist *Histogram
		if sc.opts.Histogram == EquiWidthHistogram {
			hist = BuildEquiWidthHistogram(values, sc.opts.BucketsPerDim)
		} else {
			hist = BuildEquiDepthHistogram(values, sc.opts.BucketsPerDim)
		}
		stats.Histograms[name] = hist
		stats.ColumnStats[name] = &ColumnStatistics{
			Name:          name,
			MinValue:      hist.MinValue,
			MaxValue:      hist.MaxValue,
			DistinctCount: hist.NDV,
		}
	}
	return stats
}
