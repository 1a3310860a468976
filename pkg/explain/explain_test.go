package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

const quickstepOutput = `digraph g {
  0 [label="TableReference[low2] Selectivity = 1.000000"]
  1 [label="Selection[x > -90 AND x < 110] Selectivity = 0.012345"]
  2 [label="HashAggregate Selectivity = 0.5"]
}
+------+------+
|x     |y     |
+------+------+
(6213 rows)
`

func TestTextParserByOperator(t *testing.T) {
	p := NewTextParser(DefaultSelectionRule)
	est, err := p.Parse(&domain.Response{Text: quickstepOutput})
	require.NoError(t, err)

	assert.Equal(t, int64(6213), est.TrueCount)
	assert.InDelta(t, 0.012345, est.Selectivity, 1e-12)
	assert.Equal(t, RuleOperator, est.Rule)
	assert.Equal(t, "Selection", est.Operator)
	assert.Equal(t, TextGrammar, est.Grammar)
	assert.Equal(t, "text/v1", p.Version())
}

func TestTextParserPositionFallback(t *testing.T) {
	text := "Selectivity = 1.0\nSelectivity = 0.25\nSelectivity = 0.75\n(10 rows)\n"
	est, err := NewTextParser(DefaultSelectionRule).Parse(&domain.Response{Text: text})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, est.Selectivity, 1e-12)
	assert.Equal(t, RulePosition, est.Rule)
	assert.Empty(t, est.Operator)

	est, err = NewTextParser(SelectionRule{Position: 2}).Parse(&domain.Response{Text: text})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, est.Selectivity, 1e-12)
}

func TestTextParserOperatorWordBoundary(t *testing.T) {
	// SelectionVector 不应被当作 Selection
	text := "SelectionVector Selectivity = 0.9\nScan Selectivity = 0.1\n(1 rows)"
	est, err := NewTextParser(DefaultSelectionRule).Parse(&domain.Response{Text: text})
	require.NoError(t, err)
	assert.Equal(t, RulePosition, est.Rule)
	assert.InDelta(t, 0.1, est.Selectivity, 1e-12)
}

func TestTextParserRowMarker(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int64
	}{
		{"zero rows", "Selection Selectivity = 0.000000\n(0 rows)\n", 0},
		{"single row", "Selection Selectivity = 0.012000\n(1 row)\n", 1},
		{"plural", "Selection Selectivity = 0.012000\n(12 rows)\n", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := NewTextParser(DefaultSelectionRule).Parse(&domain.Response{Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.want, est.TrueCount)
			assert.Equal(t, RuleOperator, est.Rule)
		})
	}
}

func TestTextParserFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no row-count marker", "Selection Selectivity = 0.5\n"},
		{"no selectivity marker", "(100 rows)\n"},
		{"position out of range", "Scan Selectivity = 0.5\n(100 rows)\n"},
		{"selectivity above one", "Selection Selectivity = 1.5\n(100 rows)\n"},
		{"empty response", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTextParser(DefaultSelectionRule).Parse(&domain.Response{Text: tt.text})
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeParseFailure))
			assert.Equal(t, tt.text, domain.RawResponse(err))
		})
	}
}

func samplePlan() *domain.PlanNode {
	return &domain.PlanNode{
		Operator:    "Aggregate",
		Selectivity: -1,
		ActualRows:  523,
		Children: []*domain.PlanNode{{
			Operator:    "Selection",
			Detail:      "x > 0 AND x < 10",
			Selectivity: 0.02,
			ActualRows:  523,
			Children: []*domain.PlanNode{{
				Operator:    "TableReference",
				Selectivity: 1,
				ActualRows:  1000,
			}},
		}},
	}
}

func TestPlanParser(t *testing.T) {
	est, err := NewPlanParser(DefaultSelectionRule).Parse(&domain.Response{Plan: samplePlan()})
	require.NoError(t, err)
	assert.Equal(t, int64(523), est.TrueCount)
	assert.InDelta(t, 0.02, est.Selectivity, 1e-12)
	assert.Equal(t, "Selection", est.Operator)
	assert.Equal(t, RulePlan, est.Rule)
	assert.Equal(t, PlanGrammar, est.Grammar)
}

func TestPlanParserFilterFallback(t *testing.T) {
	plan := &domain.PlanNode{
		Operator:      "Seq Scan",
		Detail:        "((x > 0) AND (x < 10))",
		Selectivity:   0.03,
		EstimatedRows: 30,
		ActualRows:    25,
	}
	est, err := NewPlanParser(DefaultSelectionRule).Parse(&domain.Response{Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, RulePlanFilter, est.Rule)
	assert.Equal(t, "Seq Scan", est.Operator)
	assert.Equal(t, int64(25), est.TrueCount)
}

func TestPlanParserFailures(t *testing.T) {
	tests := []struct {
		name string
		plan *domain.PlanNode
	}{
		{"no plan", nil},
		{"no actual rows", &domain.PlanNode{Operator: "Selection", Selectivity: 0.1, ActualRows: -1}},
		{"no selectivity", &domain.PlanNode{Operator: "Scan", Selectivity: -1, ActualRows: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanParser(DefaultSelectionRule).Parse(&domain.Response{Text: "raw", Plan: tt.plan})
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeParseFailure))
			assert.Equal(t, "raw", domain.RawResponse(err))
		})
	}
}

func TestAutoParser(t *testing.T) {
	p := NewAutoParser(DefaultSelectionRule)

	est, err := p.Parse(&domain.Response{Text: quickstepOutput, Plan: samplePlan()})
	require.NoError(t, err)
	assert.Equal(t, PlanGrammar, est.Grammar)

	est, err = p.Parse(&domain.Response{Text: quickstepOutput})
	require.NoError(t, err)
	assert.Equal(t, TextGrammar, est.Grammar)
}

func TestNewParser(t *testing.T) {
	for _, name := range []string{"", "auto", "text", "plan"} {
		p, err := NewParser(name, DefaultSelectionRule)
		require.NoError(t, err, name)
		assert.NotEmpty(t, p.Version())
	}
	_, err := NewParser("xml", DefaultSelectionRule)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeNotSupported))
}
