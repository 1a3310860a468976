package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
)

// BaselineSuffix 无统计信息基线表的后缀
const BaselineSuffix = "_nohist"

// TableSpec 合成表描述
type TableSpec struct {
	Name           string  `json:"name"`
	Dims           int     `json:"dims"`
	Tier           string  `json:"tier"`
	Correlation    float64 `json:"correlation"`
	RowCount       int64   `json:"row_count"`
	WithStatistics bool    `json:"with_statistics"`
}

// TableName 返回 <tier><dims> 形式的表名
func TableName(tier string, dims int) string {
	return fmt.Sprintf("%s%d", tier, dims)
}

// Baseline 返回同一数据的无统计信息版本
func (t TableSpec) Baseline() TableSpec {
	b := t
	b.Name = t.Name + BaselineSuffix
	b.WithStatistics = false
	return b
}

// Query 一个合取范围谓词查询
type Query struct {
	ID        int      `json:"id"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Center    []int64  `json:"center"`
	HalfWidth int64    `json:"half_width"`
	SQL       string   `json:"sql"`
}

// Dims 返回查询维度
func (q *Query) Dims() int {
	return len(q.Center)
}

// Bounds 返回第 i 维的开区间 (lower, upper)
func (q *Query) Bounds(i int) (lower, upper int64) {
	return q.Center[i] - q.HalfWidth, q.Center[i] + q.HalfWidth
}

// SameShape 判断两个查询的中心与半宽是否一致
func (q *Query) SameShape(other *Query) bool {
	if q.ID != other.ID || q.HalfWidth != other.HalfWidth || len(q.Center) != len(other.Center) {
		return false
	}
	for i := range q.Center {
		if q.Center[i] != other.Center[i] {
			return false
		}
	}
	return true
}

// LoadRequest 批量装载请求
type LoadRequest struct {
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	File      string   `json:"file"`
	Delimiter rune     `json:"delimiter"`
	// Directive 由规划器按方言渲染的装载语句
	Directive string `json:"directive"`
}

// PlanNode 结构化计划节点
type PlanNode struct {
	Operator string `json:"operator"`
	Detail   string `json:"detail,omitempty"`
	// Selectivity 引擎估算的选择率，未知时为 -1
	Selectivity   float64     `json:"selectivity"`
	EstimatedRows float64     `json:"estimated_rows"`
	// ActualRows 实际输出行数，未执行时为 -1
	ActualRows int64       `json:"actual_rows"`
	Children   []*PlanNode `json:"children,omitempty"`
}

// Walk 先序遍历计划树
func (n *PlanNode) Walk(fn func(node *PlanNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Response 引擎对一次查询的响应
type Response struct {
	Text    string        `json:"text"`
	Plan    *PlanNode     `json:"plan,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Measurement 一次查询的 (真实行数, 估算行数) 对
type Measurement struct {
	Query                *Query  `json:"query"`
	TrueCount            int64   `json:"true_count"`
	EstimatedSelectivity float64 `json:"estimated_selectivity"`
	EstimatedCount       float64 `json:"estimated_count"`
	TableRows            int64   `json:"table_rows"`
	Operator             string  `json:"operator,omitempty"`
	Rule                 string  `json:"rule,omitempty"`
}

// AbsoluteError |true - est|
func (m *Measurement) AbsoluteError() float64 {
	return math.Abs(float64(m.TrueCount) - m.EstimatedCount)
}

// RelativeError |true - est| / true，true 为 0 时未定义
func (m *Measurement) RelativeError() (float64, bool) {
	if m.TrueCount == 0 {
		return 0, false
	}
	return m.AbsoluteError() / float64(m.TrueCount), true
}

// QueryFailure 容错模式下记录的单条查询失败
type QueryFailure struct {
	Query *Query `json:"query"`
	Err   error  `json:"-"`
	// Message 便于序列化的错误描述
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

// RunResult 一张表的测量结果
type RunResult struct {
	Table        string          `json:"table"`
	TableRows    int64           `json:"table_rows"`
	Measurements []*Measurement  `json:"measurements"`
	Failures     []*QueryFailure `json:"failures,omitempty"`
	Aborted      bool            `json:"aborted"`
}

// Queries 返回已测量的查询，按查询顺序
func (r *RunResult) Queries() []*Query {
	queries := make([]*Query, 0, len(r.Measurements))
	for _, m := range r.Measurements {
		queries = append(queries, m.Query)
	}
	return queries
}

// Err 合并容错模式下记录的所有失败，没有失败时返回 nil
func (r *RunResult) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, fmt.Errorf("query %d: %w", f.Query.ID, f.Err))
	}
	return result.ErrorOrNil()
}
