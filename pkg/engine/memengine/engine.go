// Package memengine is an in-process engine used as the integration fixture
// and as a reference estimator: rows live in badger, SQL is parsed with the
// TiDB parser and ANALYZE builds histogram statistics the estimator reads.
package memengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/datagen"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/statistics"
)

// EngineType 配置中的引擎类型
const EngineType = "memory"

// 计划算子名
const (
	OpSelection      = "Selection"
	OpTableReference = "TableReference"
)

// Client 进程内引擎
type Client struct {
	store     *Store
	parser    *SQLParser
	cache     *statistics.StatisticsCache
	estimator *statistics.CardinalityEstimator
	collector *statistics.SamplingCollector
	logger    logrus.FieldLogger
}

// NewClient 按配置创建引擎
func NewClient(cfg config.MemoryConfig, logger logrus.FieldLogger) (*Client, error) {
	mode := statistics.EstimatorMode(cfg.Estimator)
	switch mode {
	case "":
		mode = statistics.ModeHTree
	case statistics.ModeHTree, statistics.ModeIndependent:
	default:
		return nil, domain.InvalidParameters("unknown estimator %q", cfg.Estimator)
	}

	histogram, ok := statistics.ParseHistogramType(cfg.Histogram)
	if !ok {
		return nil, domain.InvalidParameters("unknown histogram %q", cfg.Histogram)
	}

	logger = logger.WithField("engine", EngineType)
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	cache := statistics.NewStatisticsCache()
	return &Client{
		store:     store,
		parser:    NewSQLParser(),
		cache:     cache,
		estimator: statistics.NewCardinalityEstimator(cache, mode),
		collector: statistics.NewSamplingCollector(statistics.CollectorOptions{
			SampleRate:    cfg.SampleRate,
			BucketsPerDim: cfg.BucketsPerDim,
			BuildHTree:    mode == statistics.ModeHTree,
			Histogram:     histogram,
		}, logger),
		logger: logger,
	}, nil
}

// Exec 执行 DDL 或 ANALYZE
func (c *Client) Exec(ctx context.Context, sql string) error {
	stmt, err := c.parser.Parse(sql)
	if err != nil {
		return err
	}

	switch stmt.Kind {
	case StmtCreate:
		return c.store.CreateTable(stmt.Table, stmt.Columns)
	case StmtDrop:
		c.cache.Invalidate(stmt.Table)
		return c.store.DropTable(stmt.Table, stmt.IfExists)
	case StmtAnalyze:
		return c.Analyze(ctx, stmt.Table)
	}
	return domain.Errorf(domain.ErrCodeNotSupported, "Exec does not run queries, use Submit")
}

// Analyze 收集表的统计信息，之后的装载不会刷新统计信息
func (c *Client) Analyze(ctx context.Context, table string) error {
	stats, err := c.collector.CollectStatistics(ctx, c, table)
	if err != nil {
		return err
	}
	c.cache.Set(stats)
	return nil
}

// Submit 执行查询，返回计划文本与结构化计划
func (c *Client) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	start := time.Now()

	stmt, err := c.parser.Parse(q.SQL)
	if err != nil {
		return nil, err
	}
	if stmt.Kind != StmtSelect {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "Submit expects a SELECT")
	}

	columns, err := c.store.Columns(stmt.Table)
	if err != nil {
		return nil, err
	}
	for _, f := range stmt.Filters {
		if !containsColumn(columns, f.Field) {
			return nil, domain.InvalidParameters("unknown column %s in table %s", f.Field, stmt.Table)
		}
	}
	tableRows, err := c.store.RowCount(stmt.Table)
	if err != nil {
		return nil, err
	}

	actual, err := c.count(ctx, stmt.Table, columns, stmt.Filters)
	if err != nil {
		return nil, err
	}
	est := c.estimator.EstimateSelectivity(stmt.Table, stmt.Filters)

	c.logger.WithFields(logrus.Fields{
		"table":  stmt.Table,
		"source": est.Source,
		"actual": actual,
	}).Debugf("selectivity %f", est.Selectivity)

	cond := stmt.Condition()
	plan := &domain.PlanNode{
		Operator:      OpSelection,
		Detail:        cond,
		Selectivity:   est.Selectivity,
		EstimatedRows: est.Selectivity * float64(tableRows),
		ActualRows:    actual,
		Children: []*domain.PlanNode{{
			Operator:      OpTableReference,
			Detail:        stmt.Table,
			Selectivity:   1,
			EstimatedRows: float64(tableRows),
			ActualRows:    tableRows,
		}},
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s[%s] Selectivity = %f\n", OpTableReference, stmt.Table, 1.0)
	fmt.Fprintf(&sb, "%s[%s] Selectivity = %f\n", OpSelection, cond, est.Selectivity)
	if actual == 1 {
		sb.WriteString("(1 row)\n")
	} else {
		fmt.Fprintf(&sb, "(%d rows)\n", actual)
	}

	return &domain.Response{Text: sb.String(), Plan: plan, Elapsed: time.Since(start)}, nil
}

// count 扫描计数满足谓词的行
func (c *Client) count(ctx context.Context, table string, columns []string, filters []statistics.Filter) (int64, error) {
	box, ok := statistics.FiltersToBox(columns, filters)
	if !ok {
		return 0, nil
	}
	var n int64
	err := c.store.Scan(ctx, table, func(row []int64) error {
		for i, iv := range box {
			if !iv.Contains(row[i]) {
				return nil
			}
		}
		n++
		return nil
	})
	return n, err
}

// Load 读取分隔文件并追加到表中
func (c *Client) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	columns, err := c.store.Columns(req.Table)
	if err != nil {
		return 0, err
	}
	ds, err := datagen.ReadFile(req.File, len(columns), req.Delimiter)
	if err != nil {
		return 0, err
	}
	rows, err := c.store.Append(ctx, req.Table, ds)
	if err != nil {
		return 0, err
	}
	c.logger.WithFields(logrus.Fields{"table": req.Table, "rows": rows}).Debug("loaded")
	return rows, nil
}

// Columns 实现 statistics.RowSource
func (c *Client) Columns(table string) ([]string, error) {
	return c.store.Columns(table)
}

// Scan 实现 statistics.RowSource
func (c *Client) Scan(ctx context.Context, table string, fn func(row []int64) error) error {
	return c.store.Scan(ctx, table, fn)
}

// Statistics 返回表最近一次 ANALYZE 的统计信息
func (c *Client) Statistics(table string) (*statistics.TableStatistics, bool) {
	return c.cache.Get(table)
}

// CacheStats 返回统计信息查找计数
func (c *Client) CacheStats() statistics.CacheStats {
	return c.cache.Stats()
}

// Close 关闭存储
func (c *Client) Close() error {
	s := c.CacheStats()
	c.logger.WithFields(logrus.Fields{
		"tables": s.Tables,
		"found":  s.Found,
		"absent": s.Absent,
	}).Info("statistics lookups")
	return c.store.Close()
}

func containsColumn(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}

// Factory 进程内引擎工厂
type Factory struct{}

func (f *Factory) GetType() string { return EngineType }

func (f *Factory) Dialect() string { return "memory" }

func (f *Factory) Create(cfg config.EngineConfig, logger logrus.FieldLogger) (engine.Client, error) {
	return NewClient(cfg.Memory, logger)
}

func init() {
	engine.RegisterFactory(&Factory{})
}
