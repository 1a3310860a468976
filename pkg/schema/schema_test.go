package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/logging"
)

func TestColumnNames(t *testing.T) {
	tests := []struct {
		dims int
		want []string
	}{
		{0, nil},
		{1, []string{"x"}},
		{2, []string{"x", "y"}},
		{3, []string{"x", "y", "z"}},
		{4, []string{"a", "b", "c", "d"}},
		{5, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnNames(tt.dims), "dims=%d", tt.dims)
	}

	wide := ColumnNames(26)
	assert.Len(t, wide, 26)
	assert.Equal(t, "z", wide[25])

	generic := ColumnNames(28)
	assert.Len(t, generic, 28)
	assert.Equal(t, "c1", generic[0])
	assert.Equal(t, "c28", generic[27])
}

func TestColumnNamesUnique(t *testing.T) {
	for d := 1; d <= 64; d++ {
		seen := map[string]bool{}
		for _, name := range ColumnNames(d) {
			assert.False(t, seen[name], "dims=%d duplicate %s", d, name)
			seen[name] = true
		}
	}
}

func TestQuickstepPlanPair(t *testing.T) {
	dialect, err := GetDialect("quickstep")
	require.NoError(t, err)

	spec := domain.TableSpec{Name: "low2", Dims: 2, Tier: "low", Correlation: 0.1, RowCount: 500000}
	stats, baseline, err := PlanPair(spec, "low2.csv", ',', dialect)
	require.NoError(t, err)

	assert.Equal(t, "CREATE TABLE low2 (x INTEGER, y INTEGER);", stats.Create)
	assert.Equal(t, "COPY low2 FROM 'low2.csv' WITH (DELIMITER ',');", stats.Load.Directive)
	assert.Equal(t, `\histogram low2`, stats.Statistics)
	assert.True(t, stats.Table.WithStatistics)

	assert.Equal(t, "low2_nohist", baseline.Table.Name)
	assert.False(t, baseline.Table.WithStatistics)
	assert.Equal(t, "CREATE TABLE low2_nohist (x INTEGER, y INTEGER);", baseline.Create)
	assert.Equal(t, "COPY low2_nohist FROM 'low2.csv' WITH (DELIMITER ',');", baseline.Load.Directive)
	assert.Empty(t, baseline.Statistics)

	want := "CREATE TABLE low2 (x INTEGER, y INTEGER);\n" +
		"COPY low2 FROM 'low2.csv' WITH (DELIMITER ',');\n" +
		"\\histogram low2\n" +
		"CREATE TABLE low2_nohist (x INTEGER, y INTEGER);\n" +
		"COPY low2_nohist FROM 'low2.csv' WITH (DELIMITER ',');\n"
	assert.Equal(t, want, Script(stats, baseline))
}

func TestPostgresPlan(t *testing.T) {
	dialect, err := GetDialect("postgres")
	require.NoError(t, err)

	spec := domain.TableSpec{Name: "hi5", Dims: 5}
	stats, baseline, err := PlanPair(spec, "/data/hi5.csv", '|', dialect)
	require.NoError(t, err)

	assert.Equal(t, `CREATE TABLE "hi5" ("a" INTEGER, "b" INTEGER, "c" INTEGER, "d" INTEGER, "e" INTEGER)`, stats.Create)
	assert.Equal(t, `DROP TABLE IF EXISTS "hi5"`, stats.Drop)
	assert.Equal(t, `COPY "hi5" ("a", "b", "c", "d", "e") FROM '/data/hi5.csv' WITH (FORMAT csv, DELIMITER '|')`, stats.Load.Directive)
	assert.Equal(t, `ANALYZE "hi5"`, stats.Statistics)
	assert.Equal(t, `ALTER TABLE "hi5_nohist" SET (autovacuum_enabled = false)`, baseline.Baseline)
}

func TestMySQLPlan(t *testing.T) {
	dialect, err := GetDialect("mysql")
	require.NoError(t, err)

	plan, err := Plan(domain.TableSpec{Name: "med3", Dims: 3, WithStatistics: true}, "/tmp/it's.csv", '\t', dialect)
	require.NoError(t, err)
	assert.Equal(t, "LOAD DATA LOCAL INFILE '/tmp/it''s.csv' INTO TABLE `med3` FIELDS TERMINATED BY '\\t' LINES TERMINATED BY '\\n' (`x`, `y`, `z`)", plan.Load.Directive)
	assert.Equal(t, "ANALYZE TABLE `med3` UPDATE HISTOGRAM ON `x`, `y`, `z` WITH 100 BUCKETS", plan.Statistics)
}

func TestPlanInvalid(t *testing.T) {
	dialect, err := GetDialect("memory")
	require.NoError(t, err)

	tests := []struct {
		name string
		spec domain.TableSpec
		file string
	}{
		{"zero dims", domain.TableSpec{Name: "t", Dims: 0}, "t.csv"},
		{"bad name", domain.TableSpec{Name: "t; DROP", Dims: 2}, "t.csv"},
		{"empty file", domain.TableSpec{Name: "t", Dims: 2}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.spec, tt.file, ',', dialect)
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
		})
	}
}

func TestGetDialectUnknown(t *testing.T) {
	_, err := GetDialect("oracle")
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeNotSupported))
	assert.Equal(t, []string{"memory", "mysql", "postgres", "quickstep"}, Dialects())
}

type recordingLoader struct {
	stmts   []string
	loads   []*domain.LoadRequest
	rows    int64
	failOn  string
	loadErr error
}

func (r *recordingLoader) Exec(ctx context.Context, stmt string) error {
	r.stmts = append(r.stmts, stmt)
	if stmt == r.failOn {
		return errors.New("exec failed")
	}
	return nil
}

func (r *recordingLoader) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	r.loads = append(r.loads, req)
	return r.rows, r.loadErr
}

func TestApply(t *testing.T) {
	dialect, err := GetDialect("postgres")
	require.NoError(t, err)
	stats, baseline, err := PlanPair(domain.TableSpec{Name: "low2", Dims: 2}, "low2.csv", ',', dialect)
	require.NoError(t, err)

	loader := &recordingLoader{rows: 42}
	rows, err := Apply(context.Background(), loader, stats, logging.NullLogger)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rows)
	assert.Equal(t, []string{stats.Drop, stats.Create, stats.Statistics}, loader.stmts)
	require.Len(t, loader.loads, 1)
	assert.Equal(t, "low2", loader.loads[0].Table)

	loader = &recordingLoader{rows: 42}
	_, err = Apply(context.Background(), loader, baseline, logging.NullLogger)
	require.NoError(t, err)
	assert.Equal(t, []string{baseline.Drop, baseline.Create, baseline.Baseline}, loader.stmts)
}

func TestApplyStopsOnError(t *testing.T) {
	dialect, err := GetDialect("memory")
	require.NoError(t, err)
	plan, err := Plan(domain.TableSpec{Name: "t", Dims: 2, WithStatistics: true}, "t.csv", ',', dialect)
	require.NoError(t, err)

	loader := &recordingLoader{failOn: plan.Create}
	_, err = Apply(context.Background(), loader, plan, logging.NullLogger)
	require.Error(t, err)
	assert.Empty(t, loader.loads)

	loader = &recordingLoader{loadErr: errors.New("boom")}
	_, err = Apply(context.Background(), loader, plan, logging.NullLogger)
	require.Error(t, err)
	assert.NotContains(t, loader.stmts, plan.Statistics)
}

func TestCheckLoadCount(t *testing.T) {
	assert.NoError(t, CheckLoadCount("t", 10, 10))
	err := CheckLoadCount("t", 10, 9)
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeLoadCountMismatch))
	assert.Contains(t, err.Error(), "loaded 9 rows, generated 10")
}
