package shell

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/explain"
	"github.com/kasuganosora/cardbench/pkg/logging"
)

func requireSh(t *testing.T) string {
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func TestSubmitCapturesOutput(t *testing.T) {
	sh := requireSh(t)
	c, err := NewClient(config.ShellConfig{
		Path: sh,
		Args: []string{"-c", `read q; echo "query: $q"; echo "Selection Selectivity = 0.25" >&2; echo "(3 rows)"`},
	}, logging.NullLogger)
	require.NoError(t, err)

	resp, err := c.Submit(context.Background(), &domain.Query{SQL: "SELECT * FROM t WHERE x > 1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "query: SELECT * FROM t WHERE x > 1;")
	assert.Contains(t, resp.Text, "Selectivity = 0.25")
	assert.Contains(t, resp.Text, "(3 rows)")
	assert.Nil(t, resp.Plan)
}

func TestSubmitSingleRowResult(t *testing.T) {
	sh := requireSh(t)
	c, err := NewClient(config.ShellConfig{
		Path: sh,
		Args: []string{"-c", `cat >/dev/null; printf 'Selection Selectivity = 0.012000\n(1 row)\n'`},
	}, logging.NullLogger)
	require.NoError(t, err)

	resp, err := c.Submit(context.Background(), &domain.Query{SQL: "SELECT * FROM t WHERE x > 1"})
	require.NoError(t, err)

	est, err := explain.NewTextParser(explain.DefaultSelectionRule).Parse(resp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), est.TrueCount)
	assert.InDelta(t, 0.012, est.Selectivity, 1e-12)
}

func TestLoadReadsCount(t *testing.T) {
	sh := requireSh(t)
	c, err := NewClient(config.ShellConfig{
		Path:     sh,
		LoadArgs: []string{"-c", `cat >/dev/null; printf '+----+\n|COUNT(*)|\n+----+\n|  500000|\n+----+\n(1 row)\n'`},
	}, logging.NullLogger)
	require.NoError(t, err)

	rows, err := c.Load(context.Background(), &domain.LoadRequest{Table: "low2", File: "low2.csv", Delimiter: ','})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), rows)
}

func TestMissingBinaryIsUnavailable(t *testing.T) {
	c, err := NewClient(config.ShellConfig{Path: "/nonexistent/quickstep_cli_shell"}, logging.NullLogger)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), &domain.Query{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeEngineUnavailable))
}

func TestNonZeroExitKeepsOutput(t *testing.T) {
	sh := requireSh(t)
	c, err := NewClient(config.ShellConfig{Path: sh, Args: []string{"-c", "echo crashed; exit 3"}}, logging.NullLogger)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), &domain.Query{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeEngineUnavailable))
	assert.Contains(t, domain.RawResponse(err), "crashed")
}

func TestSubmitTimeout(t *testing.T) {
	sh := requireSh(t)
	c, err := NewClient(config.ShellConfig{Path: sh, Args: []string{"-c", "exec sleep 5"}}, logging.NullLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Submit(ctx, &domain.Query{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(engine.Classify(ctx, err), domain.ErrCodeTimeout))
}

func TestFactoryRegistered(t *testing.T) {
	f, err := engine.GetFactory(EngineType)
	require.NoError(t, err)
	assert.Equal(t, "quickstep", f.Dialect())

	_, err = NewClient(config.ShellConfig{}, logging.NullLogger)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
}
