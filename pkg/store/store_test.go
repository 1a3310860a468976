package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/logging"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "results", "cardbench.db"), logging.NullLogger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func result(table string, n int) *domain.RunResult {
	r := &domain.RunResult{Table: table, TableRows: 1000}
	for i := 0; i < n; i++ {
		r.Measurements = append(r.Measurements, &domain.Measurement{
			Query:                &domain.Query{ID: i, Table: table, Center: []int64{int64(i), -int64(i)}, HalfWidth: 70},
			TrueCount:            int64(i * 10),
			EstimatedSelectivity: 0.01,
			EstimatedCount:       10,
			TableRows:            1000,
			Rule:                 "operator",
		})
	}
	return r
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	runID := NewRunID()

	require.NoError(t, s.SaveRun(ctx, runID, "memory", []byte(`{"seed":1}`)))

	stats := result("low2", 3)
	baseline := result("low2_nohist", 3)
	baseline.Failures = []*domain.QueryFailure{{Query: &domain.Query{ID: 9}, Message: "parse failure", Raw: "garbage"}}
	baseline.Aborted = true
	require.NoError(t, s.SaveResult(ctx, runID, stats))
	require.NoError(t, s.SaveResult(ctx, runID, baseline))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "memory", runs[0].Engine)
	assert.Equal(t, `{"seed":1}`, runs[0].Config)

	summaries, err := s.Summaries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "low2", summaries[0].Table)
	assert.Equal(t, 2, summaries[0].Included)
	assert.Equal(t, 1, summaries[0].ZeroTrueCount)
	// |10-10|/10 = 0, |20-10|/20 = 0.5
	assert.InDelta(t, 0.25, summaries[0].MeanRelativeError, 1e-12)
	assert.Equal(t, "low2_nohist", summaries[1].Table)
	assert.Equal(t, 1, summaries[1].Failed)
	assert.True(t, summaries[1].Aborted)

	ms, err := s.Measurements(ctx, runID, "low2")
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, []int64{2, -2}, ms[2].Query.Center)
	assert.Equal(t, int64(20), ms[2].TrueCount)
	assert.Equal(t, int64(70), ms[2].Query.HalfWidth)
}

func TestSaveResultBatches(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	runID := NewRunID()
	require.NoError(t, s.SaveRun(ctx, runID, "memory", nil))

	require.NoError(t, s.SaveResult(ctx, runID, result("hi5", insertBatchSize*2+3)))

	ms, err := s.Measurements(ctx, runID, "hi5")
	require.NoError(t, err)
	assert.Len(t, ms, insertBatchSize*2+3)
}

func TestSaveResultDuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	runID := NewRunID()
	require.NoError(t, s.SaveRun(ctx, runID, "memory", nil))

	r := result("med3", 2)
	require.NoError(t, s.SaveResult(ctx, runID, r))
	require.Error(t, s.SaveResult(ctx, runID, r))

	ms, err := s.Measurements(ctx, runID, "med3")
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

func TestSummariesUnknownRun(t *testing.T) {
	_, err := openStore(t).Summaries(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeTableNotFound))
}

func TestCenterCodec(t *testing.T) {
	tests := [][]int64{nil, {0}, {-1000, 1000, 7}}
	for _, center := range tests {
		t.Run(fmt.Sprint(center), func(t *testing.T) {
			got, err := decodeCenter(encodeCenter(center))
			require.NoError(t, err)
			assert.Equal(t, center, got)
		})
	}
	_, err := decodeCenter("1,x")
	assert.Error(t, err)
}
