// Package sqldb drives engines reachable through database/sql. The common
// client owns the connection pool and the goqu builder used for ground-truth
// counts; each dialect contributes its DSN, EXPLAIN format and bulk load.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/engine"
)

// Dialect 封装具体数据库的差异
type Dialect interface {
	// Name 引擎类型，同时是 schema 方言名
	Name() string

	// DriverName database/sql 驱动名
	DriverName() string

	// GoquDialect goqu 方言名
	GoquDialect() string

	// BuildDSN 构造驱动连接串
	BuildDSN(cfg config.SQLConfig) (string, error)

	// Explain 以估算模式执行查询，返回原始计划与结构化计划
	Explain(ctx context.Context, c *Client, q *domain.Query, tableRows int64) (*domain.Response, error)

	// Load 从分隔文件批量装载
	Load(ctx context.Context, c *Client, req *domain.LoadRequest) error

	// IsUnavailable 判断驱动错误是否表示连接不可用
	IsUnavailable(err error) bool
}

// Client database/sql 引擎客户端
type Client struct {
	dialect Dialect
	db      *sql.DB
	goqu    *goqu.Database
	logger  logrus.FieldLogger

	mu sync.Mutex
	// tableRows 表行数缓存，DDL 后清空
	tableRows map[string]int64
}

// Open 建立连接池并验证连通性
func Open(ctx context.Context, cfg config.SQLConfig, dialect Dialect, logger logrus.FieldLogger) (*Client, error) {
	dsn, err := dialect.BuildDSN(cfg)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeInvalidParameters, "build DSN")
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeEngineUnavailable, "open "+dialect.Name())
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, domain.WrapError(err, domain.ErrCodeEngineUnavailable, "connect to "+dialect.Name())
	}

	return newClient(db, dialect, logger), nil
}

func newClient(db *sql.DB, dialect Dialect, logger logrus.FieldLogger) *Client {
	return &Client{
		dialect:   dialect,
		db:        db,
		goqu:      goqu.New(dialect.GoquDialect(), db),
		logger:    logger.WithField("engine", dialect.Name()),
		tableRows: make(map[string]int64),
	}
}

// classify 连接类错误转换为 ENGINE_UNAVAILABLE，context 错误原样返回
func (c *Client) classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) || c.dialect.IsUnavailable(err) {
		return domain.WrapError(err, domain.ErrCodeEngineUnavailable, message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Exec 执行语句
func (c *Client) Exec(ctx context.Context, stmt string) error {
	c.mu.Lock()
	c.tableRows = make(map[string]int64)
	c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, stmt)
	return c.classify(err, "exec failed")
}

// Submit 以估算模式执行查询
func (c *Client) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	start := time.Now()
	rows, err := c.TableRows(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	resp, err := c.dialect.Explain(ctx, c, q, rows)
	if err != nil {
		return nil, err
	}
	resp.Elapsed = time.Since(start)
	return resp, nil
}

// Load 装载分隔文件，返回装载后的表行数
func (c *Client) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	if err := c.dialect.Load(ctx, c, req); err != nil {
		return 0, err
	}
	n, err := c.Count(ctx, req.Table)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.tableRows[req.Table] = n
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{"table": req.Table, "rows": n}).Debug("loaded")
	return n, nil
}

// Count 执行 SELECT COUNT(*)，可附加过滤条件
func (c *Client) Count(ctx context.Context, table string, where ...goqu.Expression) (int64, error) {
	ds := c.goqu.From(table).Select(goqu.COUNT("*"))
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	var n int64
	if _, err := ds.ScanValContext(ctx, &n); err != nil {
		return 0, c.classify(err, "count "+table)
	}
	return n, nil
}

// TableRows 返回表行数，结果在下一次 DDL 前缓存
func (c *Client) TableRows(ctx context.Context, table string) (int64, error) {
	c.mu.Lock()
	n, ok := c.tableRows[table]
	c.mu.Unlock()
	if ok {
		return n, nil
	}

	n, err := c.Count(ctx, table)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.tableRows[table] = n
	c.mu.Unlock()
	return n, nil
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.db.Close()
}

// RangeFilter 把查询的开区间转换为 goqu 条件
func RangeFilter(q *domain.Query) []goqu.Expression {
	exprs := make([]goqu.Expression, 0, 2*len(q.Columns))
	for i, col := range q.Columns {
		lo, hi := q.Bounds(i)
		exprs = append(exprs, goqu.C(col).Gt(lo), goqu.C(col).Lt(hi))
	}
	return exprs
}

// Factory database/sql 引擎工厂
type Factory struct {
	dialect Dialect
}

// NewFactory 为方言创建工厂
func NewFactory(d Dialect) *Factory {
	return &Factory{dialect: d}
}

func (f *Factory) GetType() string { return f.dialect.Name() }

func (f *Factory) Dialect() string { return f.dialect.Name() }

func (f *Factory) Create(cfg config.EngineConfig, logger logrus.FieldLogger) (engine.Client, error) {
	return Open(context.Background(), cfg.SQL, f.dialect, logger)
}

func init() {
	engine.RegisterFactory(NewFactory(&PostgresDialect{}))
	engine.RegisterFactory(NewFactory(&MySQLDialect{}))
}
