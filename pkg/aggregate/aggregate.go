// Package aggregate turns measurements into table-level error metrics and
// compares a statistics-backed table against its no-statistics baseline.
package aggregate

import (
	"sort"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Summary 一张表的误差汇总。
// MeanRelativeError 与 NormalizedAbsoluteError 是两个不同的指标，都只统计真实行数大于 0 的查询。
type Summary struct {
	Table     string `json:"table"`
	TableRows int64  `json:"table_rows"`
	// MeanRelativeError 单条相对误差 |true-est|/true 的平均值
	MeanRelativeError float64 `json:"mean_relative_error"`
	// NormalizedAbsoluteError Σ|true-est| / Σtrue
	NormalizedAbsoluteError float64 `json:"normalized_absolute_error"`
	// Included 参与汇总的查询数
	Included int `json:"included"`
	// ZeroTrueCount 因真实行数为 0 被排除的查询数
	ZeroTrueCount int `json:"zero_true_count"`
	// Failed 容错模式下失败的查询数
	Failed  int  `json:"failed"`
	Aborted bool `json:"aborted"`
}

// Defined 是否至少有一条查询参与了汇总
func (s *Summary) Defined() bool {
	return s.Included > 0
}

// Summarize 汇总一次测量
func Summarize(result *domain.RunResult) *Summary {
	s := &Summary{
		Table:     result.Table,
		TableRows: result.TableRows,
		Failed:    len(result.Failures),
		Aborted:   result.Aborted,
	}

	var relSum, absSum, trueSum float64
	for _, m := range result.Measurements {
		rel, ok := m.RelativeError()
		if !ok {
			s.ZeroTrueCount++
			continue
		}
		s.Included++
		relSum += rel
		absSum += m.AbsoluteError()
		trueSum += float64(m.TrueCount)
	}

	if s.Included > 0 {
		s.MeanRelativeError = relSum / float64(s.Included)
		s.NormalizedAbsoluteError = absSum / trueSum
	}
	return s
}

// 查询未参与对比的原因
const (
	DropFailed     = "failed"
	DropNotReached = "not measured"
)

// DroppedQuery 只在一张表上测得、未参与对比的查询
type DroppedQuery struct {
	ID int `json:"id"`
	// Table 缺少该查询测量的表
	Table  string `json:"table"`
	Reason string `json:"reason"`
}

// Comparison 同一查询集上统计信息表与基线表的对比
type Comparison struct {
	Tier       string   `json:"tier,omitempty"`
	Dims       int      `json:"dims"`
	Statistics *Summary `json:"statistics"`
	// Baseline 未测量基线时为 nil
	Baseline *Summary `json:"baseline,omitempty"`
	// Queries 两张表都测得、参与对比的查询数
	Queries int            `json:"queries"`
	Dropped []DroppedQuery `json:"dropped,omitempty"`
}

// HistogramHelps 统计信息表的平均相对误差是否低于基线
func (c *Comparison) HistogramHelps() bool {
	if c.Baseline == nil || !c.Statistics.Defined() || !c.Baseline.Defined() {
		return false
	}
	return c.Statistics.MeanRelativeError < c.Baseline.MeanRelativeError
}

// Improvement 基线平均相对误差与统计信息表之比，无法比较时返回 0
func (c *Comparison) Improvement() float64 {
	if c.Baseline == nil || !c.Statistics.Defined() || !c.Baseline.Defined() || c.Statistics.MeanRelativeError == 0 {
		return 0
	}
	return c.Baseline.MeanRelativeError / c.Statistics.MeanRelativeError
}

// Aborted 任一侧的测量是否被中断
func (c *Comparison) Aborted() bool {
	return c.Statistics.Aborted || (c.Baseline != nil && c.Baseline.Aborted)
}

// Compare 对比两次测量。baseline 为 nil 时只汇总 stats。
//
// 两侧都测得的查询参与对比；只在一侧测得的查询记入 Dropped，
// 前提是另一侧记录了它的失败，或另一侧在它之前就已停止。同一 ID 的中心或半宽不同，
// 或者查询无故缺失时返回 QUERY_SET_MISMATCH。
func Compare(stats, baseline *domain.RunResult) (*Comparison, error) {
	if baseline == nil {
		return &Comparison{
			Statistics: Summarize(stats),
			Queries:    len(stats.Measurements),
		}, nil
	}

	common, dropped, err := matchQueries(stats, baseline)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		Statistics: Summarize(restrict(stats, common)),
		Baseline:   Summarize(restrict(baseline, common)),
		Queries:    len(common),
		Dropped:    dropped,
	}, nil
}

func measuredByID(r *domain.RunResult) map[int]*domain.Query {
	byID := make(map[int]*domain.Query, len(r.Measurements))
	for _, m := range r.Measurements {
		byID[m.Query.ID] = m.Query
	}
	return byID
}

// matchQueries 返回两侧都测得的查询 ID 与被丢弃的查询
func matchQueries(a, b *domain.RunResult) (map[int]bool, []DroppedQuery, error) {
	qa, qb := measuredByID(a), measuredByID(b)
	common := make(map[int]bool, len(qa))
	var dropped []DroppedQuery

	for _, m := range a.Measurements {
		q := m.Query
		other, ok := qb[q.ID]
		if !ok {
			reason, err := missingReason(b, q)
			if err != nil {
				return nil, nil, err
			}
			dropped = append(dropped, DroppedQuery{ID: q.ID, Table: b.Table, Reason: reason})
			continue
		}
		if !q.SameShape(other) {
			return nil, nil, domain.Errorf(domain.ErrCodeQuerySetMismatch,
				"query %d differs between %s and %s", q.ID, a.Table, b.Table)
		}
		common[q.ID] = true
	}
	for _, m := range b.Measurements {
		if _, ok := qa[m.Query.ID]; ok {
			continue
		}
		reason, err := missingReason(a, m.Query)
		if err != nil {
			return nil, nil, err
		}
		dropped = append(dropped, DroppedQuery{ID: m.Query.ID, Table: a.Table, Reason: reason})
	}

	sort.Slice(dropped, func(i, j int) bool {
		if dropped[i].ID != dropped[j].ID {
			return dropped[i].ID < dropped[j].ID
		}
		return dropped[i].Table < dropped[j].Table
	})
	return common, dropped, nil
}

// missingReason 解释 q 为什么没有在 r 上测得
func missingReason(r *domain.RunResult, q *domain.Query) (string, error) {
	for _, f := range r.Failures {
		if f.Query == nil || f.Query.ID != q.ID {
			continue
		}
		if !f.Query.SameShape(q) {
			return "", domain.Errorf(domain.ErrCodeQuerySetMismatch,
				"query %d differs between %s and %s", q.ID, q.Table, r.Table)
		}
		return DropFailed, nil
	}
	if (r.Aborted || len(r.Failures) > 0) && q.ID > lastAttempted(r) {
		return DropNotReached, nil
	}
	return "", domain.Errorf(domain.ErrCodeQuerySetMismatch,
		"query %d measured on %s is missing from %s", q.ID, q.Table, r.Table)
}

// lastAttempted 已测得或已失败的最大查询 ID，没有时为 -1
func lastAttempted(r *domain.RunResult) int {
	last := -1
	for _, m := range r.Measurements {
		last = max(last, m.Query.ID)
	}
	for _, f := range r.Failures {
		if f.Query != nil {
			last = max(last, f.Query.ID)
		}
	}
	return last
}

// restrict 只保留 ids 中的测量，失败与中断标记原样保留
func restrict(r *domain.RunResult, ids map[int]bool) *domain.RunResult {
	out := *r
	out.Measurements = make([]*domain.Measurement, 0, len(ids))
	for _, m := range r.Measurements {
		if ids[m.Query.ID] {
			out.Measurements = append(out.Measurements, m)
		}
	}
	return &out
}
