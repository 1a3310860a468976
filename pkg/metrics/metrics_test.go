package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/harness"
)

var (
	_ harness.Observer     = (*Collector)(nil)
	_ engine.RetryObserver = (*Collector)(nil)
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.ObserveQuery("low2", 10*time.Millisecond, nil)
	c.ObserveQuery("low2", 20*time.Millisecond, nil)
	c.ObserveQuery("low2", time.Millisecond, errors.New("boom"))
	c.ObserveQuery("hi3", time.Millisecond, nil)
	c.ObserveParseFailure("low2")
	c.ObserveZeroTrueCount("hi3")
	c.ObserveZeroTrueCount("hi3")
	c.ObserveRetry("submit", errors.New("refused"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.queries.WithLabelValues("low2", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("low2", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("hi3", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.parseFailures.WithLabelValues("low2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.zeroTrueCounts.WithLabelValues("hi3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("submit")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.queryDuration))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ObserveParseFailure("t")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.parseFailures.WithLabelValues("t")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.parseFailures.WithLabelValues("t")))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObserveQuery("med5", 5*time.Millisecond, nil)
	c.ObserveRetry("load", errors.New("timeout"))

	path := filepath.Join(t.TempDir(), "cardbench.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `cardbench_queries_total{outcome="ok",table="med5"} 1`)
	assert.Contains(t, text, `cardbench_engine_retries_total{op="load"} 1`)
	assert.Contains(t, text, "cardbench_query_duration_seconds_bucket")
}
