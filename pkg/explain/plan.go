package explain

import (
	"strings"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// PlanGrammar 结构化计划版本
const PlanGrammar = "plan/v1"

// PlanParser 按算子身份在结构化计划中选取选择率，真实行数取根节点的实际行数
type PlanParser struct {
	rule SelectionRule
}

// NewPlanParser 创建计划解析器
func NewPlanParser(rule SelectionRule) *PlanParser {
	return &PlanParser{rule: rule}
}

func (p *PlanParser) Version() string { return PlanGrammar }

// Parse 解析结构化计划
func (p *PlanParser) Parse(resp *domain.Response) (*Estimate, error) {
	raw := resp.Text
	root := resp.Plan
	if root == nil {
		return nil, domain.ParseFailure(raw, "response carries no structured plan")
	}
	if root.ActualRows < 0 {
		return nil, domain.ParseFailure(raw, "plan root has no actual row count")
	}

	var chosen *domain.PlanNode
	rule := RulePlan
	root.Walk(func(n *domain.PlanNode) bool {
		if p.rule.Operator != "" && strings.EqualFold(n.Operator, p.rule.Operator) && n.Selectivity >= 0 {
			chosen = n
			return false
		}
		return true
	})

	// 没有同名算子时取第一个带过滤条件且有选择率的节点
	if chosen == nil {
		rule = RulePlanFilter
		root.Walk(func(n *domain.PlanNode) bool {
			if n.Detail != "" && n.Selectivity >= 0 {
				chosen = n
				return false
			}
			return true
		})
	}
	if chosen == nil {
		return nil, domain.ParseFailure(raw, "no plan node carries a selectivity estimate")
	}
	if err := checkSelectivity(raw, chosen.Selectivity); err != nil {
		return nil, err
	}

	return &Estimate{
		TrueCount:   root.ActualRows,
		Selectivity: chosen.Selectivity,
		Operator:    chosen.Operator,
		Rule:        rule,
		Grammar:     PlanGrammar,
	}, nil
}

// AutoParser 有结构化计划时使用 PlanParser，否则使用 TextParser
type AutoParser struct {
	plan *PlanParser
	text *TextParser
}

// NewAutoParser 创建自动解析器
func NewAutoParser(rule SelectionRule) *AutoParser {
	return &AutoParser{plan: NewPlanParser(rule), text: NewTextParser(rule)}
}

func (p *AutoParser) Version() string {
	return "auto(" + PlanGrammar + "," + TextGrammar + ")"
}

func (p *AutoParser) Parse(resp *domain.Response) (*Estimate, error) {
	if resp.Plan != nil {
		return p.plan.Parse(resp)
	}
	return p.text.Parse(resp)
}
