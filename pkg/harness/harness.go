// Package harness submits a query set to an engine one query at a time and
// turns each response into a Measurement of true versus estimated rows.
package harness

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/explain"
)

// Submitter 测量所需的引擎能力
type Submitter interface {
	Submit(ctx context.Context, q *domain.Query) (*domain.Response, error)
}

// Observer 接收每条查询的结果，用于指标统计
type Observer interface {
	ObserveQuery(table string, elapsed time.Duration, err error)
	ObserveParseFailure(table string)
	ObserveZeroTrueCount(table string)
}

// Options 测量选项
type Options struct {
	// Tolerant 记录单条查询失败并继续，默认遇到第一个失败即停止
	Tolerant bool
}

// Harness 测量器
type Harness struct {
	client   Submitter
	parser   explain.Parser
	logger   logrus.FieldLogger
	observer Observer
	opts     Options
}

// New 创建测量器
func New(client Submitter, parser explain.Parser, logger logrus.FieldLogger, opts Options) *Harness {
	return &Harness{client: client, parser: parser, logger: logger, opts: opts}
}

// SetObserver 设置观察者
func (h *Harness) SetObserver(o Observer) {
	h.observer = o
}

// Run 依次测量 queries，返回按查询顺序排列的结果。
// 取消时返回已收集的部分结果，Aborted 为 true；非容错模式下第一个失败连同部分结果一起返回。
func (h *Harness) Run(ctx context.Context, table string, tableRows int64, queries []*domain.Query) (*domain.RunResult, error) {
	if tableRows < 1 {
		return nil, domain.InvalidParameters("table %s: row count must be >= 1, got %d", table, tableRows)
	}

	result := &domain.RunResult{
		Table:        table,
		TableRows:    tableRows,
		Measurements: make([]*domain.Measurement, 0, len(queries)),
	}
	log := h.logger.WithFields(logrus.Fields{"table": table, "parser": h.parser.Version()})

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			log.WithField("measured", len(result.Measurements)).Warn("run aborted")
			return result, err
		}

		m, err := h.measure(ctx, table, tableRows, q)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				result.Aborted = true
				log.WithField("measured", len(result.Measurements)).Warn("run aborted")
				return result, err
			}

			failure := &domain.QueryFailure{
				Query:   q,
				Err:     err,
				Message: err.Error(),
				Raw:     domain.RawResponse(err),
			}
			result.Failures = append(result.Failures, failure)
			log.WithField("query", q.ID).WithError(err).Warn("query failed")
			if !h.opts.Tolerant {
				return result, err
			}
			continue
		}
		result.Measurements = append(result.Measurements, m)
	}

	log.WithFields(logrus.Fields{
		"measured": len(result.Measurements),
		"failed":   len(result.Failures),
	}).Info("run finished")
	return result, nil
}

// measure 提交一条查询并解析响应
func (h *Harness) measure(ctx context.Context, table string, tableRows int64, q *domain.Query) (*domain.Measurement, error) {
	start := time.Now()
	resp, err := h.client.Submit(ctx, q)
	if err != nil {
		h.observeQuery(table, time.Since(start), err)
		return nil, err
	}

	est, err := h.parser.Parse(resp)
	h.observeQuery(table, time.Since(start), err)
	if err != nil {
		if h.observer != nil && domain.IsErrorCode(err, domain.ErrCodeParseFailure) {
			h.observer.ObserveParseFailure(table)
		}
		return nil, err
	}

	m := &domain.Measurement{
		Query:                q,
		TrueCount:            est.TrueCount,
		EstimatedSelectivity: est.Selectivity,
		EstimatedCount:       est.Selectivity * float64(tableRows),
		TableRows:            tableRows,
		Operator:             est.Operator,
		Rule:                 est.Rule,
	}
	if m.TrueCount == 0 && h.observer != nil {
		h.observer.ObserveZeroTrueCount(table)
	}

	h.logger.WithFields(logrus.Fields{
		"table":     table,
		"query":     q.ID,
		"true":      m.TrueCount,
		"estimated": m.EstimatedCount,
		"rule":      est.Rule,
	}).Debug("measured")
	return m, nil
}

func (h *Harness) observeQuery(table string, elapsed time.Duration, err error) {
	if h.observer != nil {
		h.observer.ObserveQuery(table, elapsed, err)
	}
}
