package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/explain"
	"github.com/kasuganosora/cardbench/pkg/logging"
)

// scripted 按查询 ID 返回预设响应
type scripted struct {
	responses map[int]string
	errs      map[int]error
	submitted []int
	onSubmit  func(id int)
}

func (s *scripted) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	s.submitted = append(s.submitted, q.ID)
	if s.onSubmit != nil {
		s.onSubmit(q.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[q.ID]; ok {
		return nil, err
	}
	return &domain.Response{Text: s.responses[q.ID]}, nil
}

func planText(sel float64, rows int64) string {
	return fmt.Sprintf("TableReference[t] Selectivity = 1.000000\nSelection[x > 1] Selectivity = %f\n(%d rows)\n", sel, rows)
}

func queries(n int) []*domain.Query {
	qs := make([]*domain.Query, n)
	for i := range qs {
		qs[i] = &domain.Query{ID: i, Table: "t", Columns: []string{"x"}, Center: []int64{0}, HalfWidth: 5}
	}
	return qs
}

type recorder struct {
	queries       int
	errors        int
	parseFailures int
	zeroTrue      int
}

func (r *recorder) ObserveQuery(table string, elapsed time.Duration, err error) {
	r.queries++
	if err != nil {
		r.errors++
	}
}

func (r *recorder) ObserveParseFailure(table string) { r.parseFailures++ }

func (r *recorder) ObserveZeroTrueCount(table string) { r.zeroTrue++ }

func newHarness(c Submitter, tolerant bool) *Harness {
	return New(c, explain.NewTextParser(explain.DefaultSelectionRule), logging.NullLogger, Options{Tolerant: tolerant})
}

func TestRun(t *testing.T) {
	client := &scripted{responses: map[int]string{
		0: planText(0.3, 25),
		1: planText(0.01, 0),
		2: planText(0.5, 1000),
	}}
	rec := &recorder{}
	h := newHarness(client, false)
	h.SetObserver(rec)

	result, err := h.Run(context.Background(), "t", 1000, queries(3))
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Measurements, 3)
	assert.Equal(t, []int{0, 1, 2}, client.submitted)

	m := result.Measurements[0]
	assert.Equal(t, int64(25), m.TrueCount)
	assert.InDelta(t, 0.3, m.EstimatedSelectivity, 1e-9)
	assert.InDelta(t, 300.0, m.EstimatedCount, 1e-6)
	assert.Equal(t, int64(1000), m.TableRows)
	assert.Equal(t, "Selection", m.Operator)
	assert.Equal(t, explain.RuleOperator, m.Rule)

	assert.Equal(t, 3, rec.queries)
	assert.Equal(t, 0, rec.errors)
	assert.Equal(t, 1, rec.zeroTrue)
	assert.NoError(t, result.Err())
}

func TestRunInvalidTableRows(t *testing.T) {
	h := newHarness(&scripted{}, false)
	_, err := h.Run(context.Background(), "t", 0, queries(1))
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
}

func TestRunParseFailureStops(t *testing.T) {
	client := &scripted{responses: map[int]string{
		0: planText(0.3, 25),
		1: "ERROR: relation does not exist",
		2: planText(0.5, 10),
	}}
	rec := &recorder{}
	h := newHarness(client, false)
	h.SetObserver(rec)

	result, err := h.Run(context.Background(), "t", 100, queries(3))
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeParseFailure))
	assert.Equal(t, "ERROR: relation does not exist", domain.RawResponse(err))

	require.NotNil(t, result)
	assert.Len(t, result.Measurements, 1)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Query.ID)
	assert.Equal(t, "ERROR: relation does not exist", result.Failures[0].Raw)
	assert.Equal(t, []int{0, 1}, client.submitted)
	assert.Equal(t, 1, rec.parseFailures)
}

func TestRunTolerant(t *testing.T) {
	client := &scripted{
		responses: map[int]string{
			0: planText(0.3, 25),
			1: "garbage",
			3: planText(0.2, 5),
		},
		errs: map[int]error{
			2: domain.NewError(domain.ErrCodeEngineUnavailable, "connection refused", nil),
		},
	}
	h := newHarness(client, true)

	result, err := h.Run(context.Background(), "t", 100, queries(4))
	require.NoError(t, err)
	assert.Len(t, result.Measurements, 2)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, 1, result.Failures[0].Query.ID)
	assert.Equal(t, 2, result.Failures[1].Query.ID)

	combined := result.Err()
	require.Error(t, combined)
	assert.True(t, domain.IsErrorCode(combined, domain.ErrCodeParseFailure))
	assert.Contains(t, combined.Error(), "query 2")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scripted{
		responses: map[int]string{0: planText(0.3, 1), 1: planText(0.3, 2), 2: planText(0.3, 3)},
	}
	client.onSubmit = func(id int) {
		if id == 1 {
			cancel()
		}
	}
	h := newHarness(client, true)

	result, err := h.Run(ctx, "t", 100, queries(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, result.Aborted)
	assert.Len(t, result.Measurements, 1)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []int{0, 1}, client.submitted)
}

func TestRunPositionFallback(t *testing.T) {
	client := &scripted{responses: map[int]string{
		0: "scan Selectivity = 1\nfilter Selectivity = 0.25\n(7 rows)",
	}}
	h := newHarness(client, false)

	result, err := h.Run(context.Background(), "t", 40, queries(1))
	require.NoError(t, err)
	require.Len(t, result.Measurements, 1)
	m := result.Measurements[0]
	assert.Equal(t, explain.RulePosition, m.Rule)
	assert.Empty(t, m.Operator)
	assert.InDelta(t, 10.0, m.EstimatedCount, 1e-9)
}
