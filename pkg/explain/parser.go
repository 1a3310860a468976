// Package explain extracts the true row count and the estimated selectivity
// from an engine response. Parsers are versioned by the grammar they accept
// so a change in the engine's output format is a new parser, not an edit to
// the measurement loop.
package explain

import (
	"github.com/kasuganosora/cardbench/pkg/domain"
)

// 选择率的选取依据
const (
	RuleOperator   = "operator"
	RulePosition   = "position"
	RulePlan       = "plan"
	RulePlanFilter = "plan-filter"
)

// Estimate 从一次响应中提取的结果
type Estimate struct {
	TrueCount   int64
	Selectivity float64
	// Operator 选中的计划算子，按位置选取时可能为空
	Operator string
	Rule     string
	Grammar  string
}

// Parser 响应解析器
type Parser interface {
	Parse(resp *domain.Response) (*Estimate, error)
	Version() string
}

// SelectionRule 在多个选择率中选出基础选择算子的规则
type SelectionRule struct {
	// Operator 基础选择算子的名称
	Operator string
	// Position 没有任何标记提到 Operator 时使用的下标（从 0 开始）
	Position int
}

// DefaultSelectionRule 按算子名 Selection 选取，否则取第二个选择率
var DefaultSelectionRule = SelectionRule{Operator: "Selection", Position: 1}

// NewParser 按名称创建解析器：auto、text 或 plan
func NewParser(name string, rule SelectionRule) (Parser, error) {
	switch name {
	case "", "auto":
		return NewAutoParser(rule), nil
	case "text":
		return NewTextParser(rule), nil
	case "plan":
		return NewPlanParser(rule), nil
	}
	return nil, domain.Errorf(domain.ErrCodeNotSupported, "unknown parser %q", name)
}

func checkSelectivity(raw string, v float64) error {
	if v < 0 || v > 1 {
		return domain.ParseFailure(raw, "selectivity outside [0,1]")
	}
	return nil
}
