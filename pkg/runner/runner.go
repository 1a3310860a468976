// Package runner wires the pipeline together: generate the synthetic
// tables, realize them in the engine with and without statistics, measure
// the same query set against both and aggregate the errors.
package runner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/aggregate"
	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/datagen"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/explain"
	"github.com/kasuganosora/cardbench/pkg/harness"
	"github.com/kasuganosora/cardbench/pkg/metrics"
	"github.com/kasuganosora/cardbench/pkg/querygen"
	"github.com/kasuganosora/cardbench/pkg/report"
	"github.com/kasuganosora/cardbench/pkg/schema"
	"github.com/kasuganosora/cardbench/pkg/store"
	"github.com/kasuganosora/cardbench/pkg/workerpool"
)

// GeneratedTable 已生成并导出的表
type GeneratedTable struct {
	Spec domain.TableSpec
	File string
	Rows int64
	// Correlation 前两维的样本相关系数，一维表为 0
	Correlation float64
}

// Specs 按档位 × 维度枚举要生成的表，顺序与配置一致
func Specs(cfg *config.Config) []domain.TableSpec {
	b := cfg.Benchmark
	specs := make([]domain.TableSpec, 0, len(b.Tiers)*len(b.Dims))
	for _, tier := range b.Tiers {
		for _, d := range b.Dims {
			specs = append(specs, domain.TableSpec{
				Name:           domain.TableName(tier.Name, d),
				Dims:           d,
				Tier:           tier.Name,
				Correlation:    tier.Correlation,
				RowCount:       b.RowCount,
				WithStatistics: true,
			})
		}
	}
	return specs
}

// DataFile 表的导出文件路径
func DataFile(cfg *config.Config, table string) string {
	return filepath.Join(cfg.Generator.OutputDir, table+".csv")
}

// GenerateTables 在工作池中并行生成并导出所有表
func GenerateTables(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) ([]*GeneratedTable, error) {
	specs := Specs(cfg)
	quantize, err := datagen.ParseQuantizeMode(cfg.Generator.Quantize)
	if err != nil {
		return nil, err
	}

	pool, err := workerpool.New(workerpool.Config{Size: cfg.Pool.MaxWorkers, QueueSize: len(specs)})
	if err != nil {
		return nil, err
	}
	if err := pool.Start(); err != nil {
		return nil, err
	}
	defer pool.Close()

	return workerpool.Map(ctx, pool, len(specs), func(ctx context.Context, i int) (*GeneratedTable, error) {
		spec := specs[i]
		start := time.Now()
		ds, err := datagen.Generate(ctx, datagen.Params{
			Dims:        spec.Dims,
			Rows:        spec.RowCount,
			StdDev:      cfg.Generator.StdDev,
			Correlation: spec.Correlation,
			Mean:        []float64{cfg.Generator.Mean},
			Quantize:    quantize,
			Seed:        datagen.SeedFor(cfg.Benchmark.Seed, spec.Name),
		})
		if err != nil {
			return nil, err
		}

		file := DataFile(cfg, spec.Name)
		if err := ds.WriteFile(file, cfg.Generator.DelimiterRune()); err != nil {
			return nil, err
		}

		t := &GeneratedTable{Spec: spec, File: file, Rows: int64(ds.Len())}
		if spec.Dims >= 2 {
			t.Correlation = ds.SampleCorrelation(0, 1)
		}
		logger.WithFields(logrus.Fields{
			"table":       spec.Name,
			"rows":        t.Rows,
			"correlation": t.Correlation,
			"elapsed":     time.Since(start),
		}).Info("table generated")
		return t, nil
	})
}

// ValidateQueries 检查每个配置维度的查询半宽，在任何引擎交互之前调用
func ValidateQueries(cfg *config.Config) error {
	b := cfg.Benchmark
	for _, d := range b.Dims {
		if _, err := querygen.HalfWidth(d, b.Domain.Low, b.Domain.High, b.SelectivityFraction); err != nil {
			return err
		}
	}
	return nil
}

// PlanTables 为每张表生成统计信息表计划，baseline 为 true 时附带基线表计划
func PlanTables(cfg *config.Config, dialect schema.Dialect, baseline bool) ([]*schema.TablePlan, error) {
	delim := cfg.Generator.DelimiterRune()
	var plans []*schema.TablePlan
	for _, spec := range Specs(cfg) {
		file := DataFile(cfg, spec.Name)
		if !baseline {
			p, err := schema.Plan(spec, file, delim, dialect)
			if err != nil {
				return nil, err
			}
			plans = append(plans, p)
			continue
		}
		stats, base, err := schema.PlanPair(spec, file, delim, dialect)
		if err != nil {
			return nil, err
		}
		plans = append(plans, stats, base)
	}
	return plans, nil
}

// Runner 完整流水线
type Runner struct {
	cfg       *config.Config
	client    engine.Client
	dialect   schema.Dialect
	parser    explain.Parser
	logger    logrus.FieldLogger
	collector *metrics.Collector
	store     *store.Store
	engine    string
}

// New 创建流水线，client 通常已由 engine.WithRetry 包装
func New(cfg *config.Config, client engine.Client, dialect schema.Dialect, logger logrus.FieldLogger) (*Runner, error) {
	parser, err := explain.NewParser(cfg.Harness.Parser, explain.SelectionRule{
		Operator: cfg.Harness.Selection.Operator,
		Position: cfg.Harness.Selection.Position,
	})
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:     cfg,
		client:  client,
		dialect: dialect,
		parser:  parser,
		logger:  logger,
		engine:  cfg.Engine.Type,
	}, nil
}

// SetMetrics 设置指标收集器
func (r *Runner) SetMetrics(c *metrics.Collector) {
	r.collector = c
}

// SetStore 设置结果存储
func (r *Runner) SetStore(s *store.Store) {
	r.store = s
}

// Run 执行整个流水线。出错或被取消时返回截至当时的报告与错误。
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	rep := &report.Report{
		RunID:     store.NewRunID(),
		CreatedAt: time.Now().UTC(),
		Engine:    r.engine,
		Parser:    r.parser.Version(),
	}
	log := r.logger.WithField("run", rep.RunID)

	if err := ValidateQueries(r.cfg); err != nil {
		return rep, err
	}

	if r.store != nil {
		cfgJSON, err := json.Marshal(r.cfg)
		if err != nil {
			return rep, err
		}
		if err := r.store.SaveRun(ctx, rep.RunID, r.engine, cfgJSON); err != nil {
			return rep, err
		}
	}

	tables, err := GenerateTables(ctx, r.cfg, log)
	if err != nil {
		return rep, err
	}

	for _, t := range tables {
		if err := r.measureTable(ctx, rep, t); err != nil {
			return rep, err
		}
	}

	log.WithField("tables", len(rep.Comparisons)).Info("run finished")
	return rep, nil
}

// measureTable 装载一张表（及其基线），测量同一查询集并汇总
func (r *Runner) measureTable(ctx context.Context, rep *report.Report, t *GeneratedTable) error {
	spec := t.Spec
	log := r.logger.WithField("table", spec.Name)
	delim := r.cfg.Generator.DelimiterRune()

	var statsPlan, basePlan *schema.TablePlan
	var err error
	if r.cfg.Harness.Baseline {
		statsPlan, basePlan, err = schema.PlanPair(spec, t.File, delim, r.dialect)
	} else {
		statsPlan, err = schema.Plan(spec, t.File, delim, r.dialect)
	}
	if err != nil {
		return err
	}

	b := r.cfg.Benchmark
	queries, err := querygen.Generate(querygen.Params{
		Table:        spec.Name,
		Dims:         spec.Dims,
		Low:          b.Domain.Low,
		High:         b.Domain.High,
		Fraction:     b.SelectivityFraction,
		Count:        b.QueryCount,
		Sampling:     querygen.SamplingMode(b.CenterSampling),
		CenterMean:   r.cfg.Generator.Mean,
		CenterStdDev: b.CenterStdDev,
		Quantize:     datagen.QuantizeMode(r.cfg.Generator.Quantize),
		Seed:         datagen.SeedFor(b.Seed, spec.Name+"/queries"),
	})
	if err != nil {
		return err
	}

	statsResult, runErr := r.loadAndMeasure(ctx, rep, statsPlan, t.Rows, queries)
	if statsResult == nil {
		return runErr
	}

	// 统计信息表没有完整测量时不再装载基线
	var baseResult *domain.RunResult
	if basePlan != nil && runErr == nil {
		baseQueries := querygen.Retarget(queries, basePlan.Table.Name)
		baseResult, runErr = r.loadAndMeasure(ctx, rep, basePlan, t.Rows, baseQueries)
	}

	cmp, err := aggregate.Compare(statsResult, baseResult)
	if err != nil {
		if runErr != nil {
			log.WithError(err).Warn("partial results could not be compared")
			return runErr
		}
		return err
	}
	cmp.Tier, cmp.Dims = spec.Tier, spec.Dims
	rep.Comparisons = append(rep.Comparisons, cmp)

	fields := logrus.Fields{
		"queries":                   cmp.Queries,
		"dropped":                   len(cmp.Dropped),
		"aborted":                   cmp.Aborted(),
		"mean_relative_error":       cmp.Statistics.MeanRelativeError,
		"normalized_absolute_error": cmp.Statistics.NormalizedAbsoluteError,
		"zero_true_count":           cmp.Statistics.ZeroTrueCount,
	}
	if cmp.Baseline != nil {
		fields["baseline_mean_relative_error"] = cmp.Baseline.MeanRelativeError
		fields["histogram_helps"] = cmp.HistogramHelps()
	}
	for _, d := range cmp.Dropped {
		log.WithFields(logrus.Fields{"query": d.ID, "missing_on": d.Table, "reason": d.Reason}).
			Warn("query dropped from comparison")
	}
	log.WithFields(fields).Info("table measured")
	return runErr
}

// loadAndMeasure 执行计划后测量，结果（包括部分结果）追加到报告中。
// 测量出错时仍返回已有的部分结果与错误；装载失败时结果为 nil。
func (r *Runner) loadAndMeasure(ctx context.Context, rep *report.Report, plan *schema.TablePlan,
	generated int64, queries []*domain.Query) (*domain.RunResult, error) {
	table := plan.Table.Name
	log := r.logger.WithField("table", table)

	rows, err := schema.Apply(ctx, r.client, plan, r.logger)
	if err != nil {
		return nil, err
	}
	if err := schema.CheckLoadCount(table, generated, rows); err != nil {
		log.WithError(err).Warn("load count mismatch")
	}

	h := harness.New(r.client, r.parser, r.logger, harness.Options{Tolerant: r.cfg.Harness.Tolerant})
	if r.collector != nil {
		h.SetObserver(r.collector)
	}

	result, runErr := h.Run(ctx, table, rows, queries)
	if result != nil {
		rep.Runs = append(rep.Runs, result)
		if r.store != nil {
			// 取消后仍保存部分结果
			if err := r.store.SaveResult(context.WithoutCancel(ctx), rep.RunID, result); err != nil {
				log.WithError(err).Warn("failed to store result")
			}
		}
		if err := result.Err(); err != nil && runErr == nil {
			log.WithError(err).Warn("queries failed in tolerant mode")
		}
	}
	return result, runErr
}
