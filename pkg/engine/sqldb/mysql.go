package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/schema"
)

// MySQLDialect MySQL：EXPLAIN FORMAT=JSON 的 filtered 百分比，真实行数用 COUNT(*)
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string { return "mysql" }

func (d *MySQLDialect) DriverName() string { return "mysql" }

func (d *MySQLDialect) GoquDialect() string { return "mysql" }

func (d *MySQLDialect) BuildDSN(cfg config.SQLConfig) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("engine.sql.host must not be empty")
	}
	port := cfg.Port
	if port <= 0 {
		port = 3306
	}

	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mc.DBName = cfg.Database
	mc.AllowNativePasswords = true
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}

	switch cfg.SSLMode {
	case "true", "required", "require":
		mc.TLSConfig = "true"
	case "skip-verify", "preferred":
		mc.TLSConfig = "skip-verify"
	case "false", "disable", "":
		mc.TLSConfig = "false"
	default:
		mc.TLSConfig = cfg.SSLMode
	}
	return mc.FormatDSN(), nil
}

// IsUnavailable 连接失效或服务器拒绝连接
func (d *MySQLDialect) IsUnavailable(err error) bool {
	if errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1053, 2002, 2003, 2006, 2013:
			return true
		}
	}
	return false
}

// mysqlTable EXPLAIN FORMAT=JSON 中的单表访问
type mysqlTable struct {
	TableName         string      `json:"table_name"`
	AccessType        string      `json:"access_type"`
	RowsExamined      json.Number `json:"rows_examined_per_scan"`
	RowsProduced      json.Number `json:"rows_produced_per_join"`
	Filtered          json.Number `json:"filtered"`
	AttachedCondition string      `json:"attached_condition"`
}

// ParseMySQLPlan 解析 EXPLAIN FORMAT=JSON；选择率取 filtered / 100
func ParseMySQLPlan(raw string, tableRows, actual int64) (*domain.PlanNode, error) {
	var doc struct {
		QueryBlock struct {
			Table *mysqlTable `json:"table"`
		} `json:"query_block"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, domain.ParseFailure(raw, "invalid EXPLAIN JSON: "+err.Error())
	}
	t := doc.QueryBlock.Table
	if t == nil {
		return nil, domain.ParseFailure(raw, "EXPLAIN JSON has no table access")
	}
	filtered, err := strconv.ParseFloat(string(t.Filtered), 64)
	if err != nil {
		return nil, domain.ParseFailure(raw, fmt.Sprintf("filtered %q: %v", t.Filtered, err))
	}
	examined, _ := strconv.ParseFloat(string(t.RowsExamined), 64)
	produced, _ := strconv.ParseFloat(string(t.RowsProduced), 64)

	return &domain.PlanNode{
		Operator:      "Filter",
		Detail:        t.AttachedCondition,
		Selectivity:   filtered / 100,
		EstimatedRows: produced,
		ActualRows:    actual,
		Children: []*domain.PlanNode{{
			Operator:      t.AccessType,
			Detail:        t.TableName,
			Selectivity:   -1,
			EstimatedRows: examined,
			ActualRows:    tableRows,
		}},
	}, nil
}

func (d *MySQLDialect) Explain(ctx context.Context, c *Client, q *domain.Query, tableRows int64) (*domain.Response, error) {
	var raw string
	if err := c.db.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+q.SQL).Scan(&raw); err != nil {
		return nil, c.classify(err, "explain query")
	}
	actual, err := c.Count(ctx, q.Table, RangeFilter(q)...)
	if err != nil {
		return nil, err
	}
	plan, err := ParseMySQLPlan(raw, tableRows, actual)
	if err != nil {
		return nil, err
	}
	return &domain.Response{Text: raw, Plan: plan}, nil
}

// Load 注册本地文件后执行 LOAD DATA LOCAL INFILE
func (d *MySQLDialect) Load(ctx context.Context, c *Client, req *domain.LoadRequest) error {
	directive := req.Directive
	if directive == "" {
		dialect, err := schema.GetDialect(d.Name())
		if err != nil {
			return err
		}
		directive = dialect.LoadDirective(req)
	}

	mysqldriver.RegisterLocalFile(req.File)
	defer mysqldriver.DeregisterLocalFile(req.File)

	_, err := c.db.ExecContext(ctx, directive)
	return c.classify(err, "load "+req.Table)
}
