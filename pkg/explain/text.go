package explain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// TextGrammar 文本输出语法版本
const TextGrammar = "text/v1"

var (
	rowCountPattern    = regexp.MustCompile(`(\d+) rows?\b`)
	selectivityPattern = regexp.MustCompile(`Selectivity = ([01](?:\.\d+)?)`)
)

// TextParser 解析 text/v1 语法：
//
//	<n> rows | 1 row         真实行数，取第一个
//	Selectivity = <f>        每个计划算子一个，按输出顺序
//
// 所在行包含算子名的第一个选择率胜出；没有任何一行包含算子名时取 Position 处的选择率。
type TextParser struct {
	rule      SelectionRule
	opPattern *regexp.Regexp
}

// NewTextParser 创建文本解析器
func NewTextParser(rule SelectionRule) *TextParser {
	p := &TextParser{rule: rule}
	if rule.Operator != "" {
		p.opPattern = regexp.MustCompile(`\b` + regexp.QuoteMeta(rule.Operator) + `\b`)
	}
	return p
}

func (p *TextParser) Version() string { return TextGrammar }

// Parse 解析响应文本
func (p *TextParser) Parse(resp *domain.Response) (*Estimate, error) {
	raw := resp.Text

	rows := rowCountPattern.FindStringSubmatch(raw)
	if rows == nil {
		return nil, domain.ParseFailure(raw, "no row-count marker")
	}
	trueCount, err := strconv.ParseInt(rows[1], 10, 64)
	if err != nil {
		return nil, domain.ParseFailure(raw, fmt.Sprintf("row count %q: %v", rows[1], err))
	}

	markers := selectivityPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(markers) == 0 {
		return nil, domain.ParseFailure(raw, "no selectivity marker")
	}

	chosen, rule := -1, RulePosition
	if p.opPattern != nil {
		for i, m := range markers {
			if p.opPattern.MatchString(lineAt(raw, m[0])) {
				chosen, rule = i, RuleOperator
				break
			}
		}
	}
	if chosen < 0 {
		if p.rule.Position >= len(markers) {
			return nil, domain.ParseFailure(raw, fmt.Sprintf(
				"found %d selectivity markers, selection position is %d", len(markers), p.rule.Position))
		}
		chosen = p.rule.Position
	}

	m := markers[chosen]
	value := raw[m[2]:m[3]]
	sel, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, domain.ParseFailure(raw, fmt.Sprintf("selectivity %q: %v", value, err))
	}
	if err := checkSelectivity(raw, sel); err != nil {
		return nil, err
	}

	est := &Estimate{
		TrueCount:   trueCount,
		Selectivity: sel,
		Rule:        rule,
		Grammar:     TextGrammar,
	}
	if rule == RuleOperator {
		est.Operator = p.rule.Operator
	}
	return est, nil
}

// lineAt 返回 offset 所在的整行
func lineAt(s string, offset int) string {
	start := strings.LastIndexByte(s[:offset], '\n') + 1
	end := strings.IndexByte(s[offset:], '\n')
	if end < 0 {
		return s[start:]
	}
	return s[start : offset+end]
}
