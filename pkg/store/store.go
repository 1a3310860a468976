// Package store keeps run results in a sqlite file so repeated benchmark
// runs can be compared without re-reading their JSON reports.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kasuganosora/cardbench/pkg/aggregate"
	"github.com/kasuganosora/cardbench/pkg/domain"
)

const (
	// insertBatchSize 单条 INSERT 写入的最大行数
	insertBatchSize = 500
	// timeLayout 定长时间格式，保证按字符串排序即按时间排序
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		engine     TEXT NOT NULL,
		config     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		run_id                    TEXT NOT NULL REFERENCES runs(id),
		table_name                TEXT NOT NULL,
		table_rows                INTEGER NOT NULL,
		mean_relative_error       REAL NOT NULL,
		normalized_absolute_error REAL NOT NULL,
		included                  INTEGER NOT NULL,
		zero_true_count           INTEGER NOT NULL,
		failed                    INTEGER NOT NULL,
		aborted                   INTEGER NOT NULL,
		PRIMARY KEY (run_id, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS measurements (
		run_id                TEXT NOT NULL REFERENCES runs(id),
		table_name            TEXT NOT NULL,
		query_id              INTEGER NOT NULL,
		half_width            INTEGER NOT NULL,
		center                TEXT NOT NULL,
		true_count            INTEGER NOT NULL,
		estimated_selectivity REAL NOT NULL,
		estimated_count       REAL NOT NULL,
		rule                  TEXT NOT NULL,
		PRIMARY KEY (run_id, table_name, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS failures (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		table_name TEXT NOT NULL,
		query_id   INTEGER NOT NULL,
		message    TEXT NOT NULL,
		raw        TEXT NOT NULL
	)`,
}

// Run 一次运行的记录
type Run struct {
	ID        string `db:"id"`
	CreatedAt string `db:"created_at"`
	Engine    string `db:"engine"`
	Config    string `db:"config"`
}

// summaryRow summaries 表的一行
type summaryRow struct {
	RunID                   string  `db:"run_id"`
	Table                   string  `db:"table_name"`
	TableRows               int64   `db:"table_rows"`
	MeanRelativeError       float64 `db:"mean_relative_error"`
	NormalizedAbsoluteError float64 `db:"normalized_absolute_error"`
	Included                int     `db:"included"`
	ZeroTrueCount           int     `db:"zero_true_count"`
	Failed                  int     `db:"failed"`
	Aborted                 bool    `db:"aborted"`
}

// Store sqlite 结果存储
type Store struct {
	db     *sql.DB
	goqu   *goqu.Database
	logger logrus.FieldLogger
}

// Open 打开（必要时创建）结果数据库
func Open(ctx context.Context, path string, logger logrus.FieldLogger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite 只允许一个写连接，内存库每个连接也是独立的
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create store schema: %w", err)
		}
	}

	return &Store{
		db:     db,
		goqu:   goqu.New("sqlite3", db),
		logger: logger.WithField("component", "store"),
	}, nil
}

// NewRunID 生成运行 ID
func NewRunID() string {
	return uuid.New().String()
}

// SaveRun 记录一次运行及其配置
func (s *Store) SaveRun(ctx context.Context, runID, engine string, config []byte) error {
	_, err := s.goqu.Insert("runs").Rows(goqu.Record{
		"id":         runID,
		"created_at": time.Now().UTC().Format(timeLayout),
		"engine":     engine,
		"config":     string(config),
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	return nil
}

// SaveResult 在一个事务中写入一张表的测量、失败与汇总
func (s *Store) SaveResult(ctx context.Context, runID string, result *domain.RunResult) error {
	summary := aggregate.Summarize(result)

	tx, err := s.goqu.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	err = tx.Wrap(func() error {
		if _, err := tx.Insert("summaries").Rows(summaryRow{
			RunID:                   runID,
			Table:                   summary.Table,
			TableRows:               summary.TableRows,
			MeanRelativeError:       summary.MeanRelativeError,
			NormalizedAbsoluteError: summary.NormalizedAbsoluteError,
			Included:                summary.Included,
			ZeroTrueCount:           summary.ZeroTrueCount,
			Failed:                  summary.Failed,
			Aborted:                 summary.Aborted,
		}).Executor().ExecContext(ctx); err != nil {
			return err
		}

		rows := make([]interface{}, 0, insertBatchSize)
		flush := func(table string) error {
			if len(rows) == 0 {
				return nil
			}
			_, err := tx.Insert(table).Rows(rows...).Executor().ExecContext(ctx)
			rows = rows[:0]
			return err
		}

		for _, m := range result.Measurements {
			rows = append(rows, goqu.Record{
				"run_id":                runID,
				"table_name":            result.Table,
				"query_id":              m.Query.ID,
				"half_width":            m.Query.HalfWidth,
				"center":                encodeCenter(m.Query.Center),
				"true_count":            m.TrueCount,
				"estimated_selectivity": m.EstimatedSelectivity,
				"estimated_count":       m.EstimatedCount,
				"rule":                  m.Rule,
			})
			if len(rows) == insertBatchSize {
				if err := flush("measurements"); err != nil {
					return err
				}
			}
		}
		if err := flush("measurements"); err != nil {
			return err
		}

		for _, f := range result.Failures {
			rows = append(rows, goqu.Record{
				"run_id":     runID,
				"table_name": result.Table,
				"query_id":   f.Query.ID,
				"message":    f.Message,
				"raw":        f.Raw,
			})
		}
		return flush("failures")
	})
	if err != nil {
		return fmt.Errorf("save result %s/%s: %w", runID, result.Table, err)
	}

	s.logger.WithFields(logrus.Fields{
		"run":          runID,
		"table":        result.Table,
		"measurements": len(result.Measurements),
	}).Debug("result saved")
	return nil
}

// Runs 按创建时间列出所有运行
func (s *Store) Runs(ctx context.Context) ([]*Run, error) {
	var runs []*Run
	err := s.goqu.From("runs").Order(goqu.C("created_at").Asc()).ScanStructsContext(ctx, &runs)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Summaries 返回一次运行中每张表的汇总，按写入顺序
func (s *Store) Summaries(ctx context.Context, runID string) ([]*aggregate.Summary, error) {
	var rows []summaryRow
	err := s.goqu.From("summaries").
		Where(goqu.C("run_id").Eq(runID)).
		Order(goqu.I("rowid").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("load summaries for %s: %w", runID, err)
	}
	if len(rows) == 0 {
		return nil, domain.Errorf(domain.ErrCodeTableNotFound, "no results stored for run %s", runID)
	}

	summaries := make([]*aggregate.Summary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, &aggregate.Summary{
			Table:                   r.Table,
			TableRows:               r.TableRows,
			MeanRelativeError:       r.MeanRelativeError,
			NormalizedAbsoluteError: r.NormalizedAbsoluteError,
			Included:                r.Included,
			ZeroTrueCount:           r.ZeroTrueCount,
			Failed:                  r.Failed,
			Aborted:                 r.Aborted,
		})
	}
	return summaries, nil
}

// Measurements 返回一次运行中某张表的测量，按查询 ID 排序
func (s *Store) Measurements(ctx context.Context, runID, table string) ([]*domain.Measurement, error) {
	var rows []struct {
		QueryID              int     `db:"query_id"`
		HalfWidth            int64   `db:"half_width"`
		Center               string  `db:"center"`
		TrueCount            int64   `db:"true_count"`
		EstimatedSelectivity float64 `db:"estimated_selectivity"`
		EstimatedCount       float64 `db:"estimated_count"`
		Rule                 string  `db:"rule"`
	}
	err := s.goqu.From("measurements").
		Where(goqu.C("run_id").Eq(runID), goqu.C("table_name").Eq(table)).
		Order(goqu.C("query_id").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("load measurements for %s/%s: %w", runID, table, err)
	}

	out := make([]*domain.Measurement, 0, len(rows))
	for _, r := range rows {
		center, err := decodeCenter(r.Center)
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.Measurement{
			Query:                &domain.Query{ID: r.QueryID, Table: table, Center: center, HalfWidth: r.HalfWidth},
			TrueCount:            r.TrueCount,
			EstimatedSelectivity: r.EstimatedSelectivity,
			EstimatedCount:       r.EstimatedCount,
			Rule:                 r.Rule,
		})
	}
	return out, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeCenter(center []int64) string {
	parts := make([]string, len(center))
	for i, v := range center {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func decodeCenter(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	center := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt center %q: %w", s, err)
		}
		center[i] = v
	}
	return center, nil
}
