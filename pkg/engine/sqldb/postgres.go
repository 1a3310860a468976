package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/datagen"
	"github.com/kasuganosora/cardbench/pkg/domain"
)

// PostgresDialect PostgreSQL：EXPLAIN ANALYZE 的 JSON 计划，COPY FROM STDIN 装载
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) DriverName() string { return "postgres" }

func (d *PostgresDialect) GoquDialect() string { return "postgres" }

// pqValue 按 libpq 连接串规则给值加引号
func pqValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// BuildDSN 未识别的键由 lib/pq 作为会话参数发送，借此关闭并行扫描，
// 保证计划根节点的实际行数就是结果行数
func (d *PostgresDialect) BuildDSN(cfg config.SQLConfig) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("engine.sql.host must not be empty")
	}
	port := cfg.Port
	if port <= 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	parts := []string{
		fmt.Sprintf("host=%s", pqValue(cfg.Host)),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("sslmode=%s", pqValue(sslMode)),
		"max_parallel_workers_per_gather=0",
	}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", pqValue(cfg.User)))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", pqValue(cfg.Password)))
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", pqValue(cfg.Database)))
	}
	if cfg.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(math.Ceil(cfg.ConnectTimeout.Seconds()))))
	}
	return strings.Join(parts, " "), nil
}

// IsUnavailable SQLSTATE 08 类（连接异常）与 57P 类（服务器关闭）
func (d *PostgresDialect) IsUnavailable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P")
}

// pgPlan EXPLAIN (FORMAT JSON) 的计划节点
type pgPlan struct {
	NodeType     string   `json:"Node Type"`
	RelationName string   `json:"Relation Name"`
	PlanRows     float64  `json:"Plan Rows"`
	ActualRows   float64  `json:"Actual Rows"`
	ActualLoops  float64  `json:"Actual Loops"`
	Filter       string   `json:"Filter"`
	Plans        []pgPlan `json:"Plans"`
}

// toPlanNode 带过滤条件的节点记录选择率 = 估算行数 / 表行数
func (p *pgPlan) toPlanNode(tableRows int64) *domain.PlanNode {
	loops := p.ActualLoops
	if loops < 1 {
		loops = 1
	}
	node := &domain.PlanNode{
		Operator:      p.NodeType,
		Detail:        p.Filter,
		Selectivity:   -1,
		EstimatedRows: p.PlanRows,
		ActualRows:    int64(math.Round(p.ActualRows * loops)),
	}
	if p.Filter != "" && tableRows > 0 {
		node.Selectivity = math.Min(1, p.PlanRows/float64(tableRows))
	}
	for i := range p.Plans {
		node.Children = append(node.Children, p.Plans[i].toPlanNode(tableRows))
	}
	return node
}

// ParsePostgresPlan 解析 EXPLAIN (ANALYZE, FORMAT JSON) 的输出
func ParsePostgresPlan(raw string, tableRows int64) (*domain.PlanNode, error) {
	var doc []struct {
		Plan *pgPlan `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, domain.ParseFailure(raw, "invalid EXPLAIN JSON: "+err.Error())
	}
	if len(doc) == 0 || doc[0].Plan == nil {
		return nil, domain.ParseFailure(raw, "EXPLAIN JSON has no plan")
	}
	return doc[0].Plan.toPlanNode(tableRows), nil
}

func (d *PostgresDialect) Explain(ctx context.Context, c *Client, q *domain.Query, tableRows int64) (*domain.Response, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, "EXPLAIN (ANALYZE, FORMAT JSON) "+q.SQL).Scan(&raw)
	if err != nil {
		return nil, c.classify(err, "explain query")
	}
	plan, err := ParsePostgresPlan(raw, tableRows)
	if err != nil {
		return nil, err
	}
	return &domain.Response{Text: raw, Plan: plan}, nil
}

// Load 经 COPY FROM STDIN 从客户端写入，数据文件不必位于数据库主机
func (d *PostgresDialect) Load(ctx context.Context, c *Client, req *domain.LoadRequest) error {
	ds, err := datagen.ReadFile(req.File, len(req.Columns), req.Delimiter)
	if err != nil {
		return err
	}

	txn, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return c.classify(err, "begin load")
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(req.Table, req.Columns...))
	if err != nil {
		return c.classify(err, "prepare COPY")
	}

	args := make([]interface{}, ds.Dims)
	for i := 0; i < ds.Len(); i++ {
		for j, v := range ds.Row(i) {
			args[j] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return c.classify(err, fmt.Sprintf("COPY row %d", i))
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return c.classify(err, "flush COPY")
	}
	if err := stmt.Close(); err != nil {
		return c.classify(err, "close COPY")
	}
	return c.classify(txn.Commit(), "commit load")
}
