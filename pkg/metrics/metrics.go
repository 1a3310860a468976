// Package metrics records harness and engine activity in a private
// prometheus registry. A benchmark run is a batch job, so the registry is
// written out as a node-exporter textfile instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsPrefix 指标名前缀
const MetricsPrefix = "cardbench_"

// 查询结果标签
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector 测量过程的指标收集器
type Collector struct {
	registry *prometheus.Registry

	queryDuration  *prometheus.HistogramVec
	queries        *prometheus.CounterVec
	parseFailures  *prometheus.CounterVec
	zeroTrueCounts *prometheus.CounterVec
	retries        *prometheus.CounterVec
}

// NewCollector 创建收集器及其独立的注册表
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "query_duration_seconds",
			Help:    "Time from submitting a query to parsing its response",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"table"}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "queries_total",
			Help: "Number of measured queries grouped by table and outcome",
		}, []string{"table", "outcome"}),
		parseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "parse_failures_total",
			Help: "Number of engine responses the parser could not read",
		}, []string{"table"}),
		zeroTrueCounts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "zero_true_count_total",
			Help: "Number of queries whose true result count was zero",
		}, []string{"table"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "engine_retries_total",
			Help: "Number of retried engine calls grouped by operation",
		}, []string{"op"}),
	}
}

// Registry 返回底层注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveQuery 记录一条查询的耗时与结果
func (c *Collector) ObserveQuery(table string, elapsed time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.queryDuration.WithLabelValues(table).Observe(elapsed.Seconds())
	c.queries.WithLabelValues(table, outcome).Inc()
}

// ObserveParseFailure 记录一次解析失败
func (c *Collector) ObserveParseFailure(table string) {
	c.parseFailures.WithLabelValues(table).Inc()
}

// ObserveZeroTrueCount 记录一次真实行数为 0 的查询
func (c *Collector) ObserveZeroTrueCount(table string) {
	c.zeroTrueCounts.WithLabelValues(table).Inc()
}

// ObserveRetry 记录一次引擎调用重试
func (c *Collector) ObserveRetry(op string, err error) {
	c.retries.WithLabelValues(op).Inc()
}

// WriteTextfile 以文本格式写出全部指标
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
