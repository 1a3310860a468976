// Package shell drives an engine exposed as a command-line shell: one
// process per request, SQL on stdin, plan and results on stdout/stderr.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/schema"
)

// EngineType 配置中的引擎类型
const EngineType = "shell"

// waitDelay 进程被取消后等待输出管道关闭的上限
const waitDelay = 2 * time.Second

// countCellPattern 表格输出中的整数单元格，例如 |   500000|
var countCellPattern = regexp.MustCompile(`\|\s*(\d+)\s*\|`)

// Client 子进程引擎客户端
type Client struct {
	cfg     config.ShellConfig
	dialect schema.Dialect
	logger  logrus.FieldLogger
}

// NewClient 创建子进程客户端
func NewClient(cfg config.ShellConfig, logger logrus.FieldLogger) (*Client, error) {
	if cfg.Path == "" {
		return nil, domain.InvalidParameters("engine.shell.path must not be empty")
	}
	dialect, err := schema.GetDialect("quickstep")
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, dialect: dialect, logger: logger.WithField("engine", EngineType)}, nil
}

// run 启动一次外壳进程，input 写入 stdin，返回合并后的 stdout 与 stderr
func (c *Client) run(ctx context.Context, args []string, input string) (string, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	cmd.Dir = c.cfg.WorkDir
	cmd.Stdin = strings.NewReader(input)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.String(), ctxErr
	}

	var pathErr *fs.PathError
	if errors.Is(err, exec.ErrNotFound) || errors.As(err, &pathErr) {
		return "", domain.WrapError(err, domain.ErrCodeEngineUnavailable, "cannot start engine shell "+c.cfg.Path)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := domain.WrapError(err, domain.ErrCodeEngineUnavailable,
			fmt.Sprintf("engine shell exited with code %d", exitErr.ExitCode()))
		e.Raw = out.String()
		return out.String(), e
	}
	return out.String(), domain.WrapError(err, domain.ErrCodeEngineUnavailable, "engine shell failed")
}

func terminate(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if !strings.HasPrefix(stmt, `\`) && !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt + "\n"
}

// Exec 以装载参数启动外壳执行语句
func (c *Client) Exec(ctx context.Context, stmt string) error {
	out, err := c.run(ctx, c.cfg.LoadArgs, terminate(stmt))
	c.logger.WithField("stmt", stmt).Debugf("exec output: %s", out)
	return err
}

// Submit 以计划可视化参数启动外壳执行查询
func (c *Client) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	start := time.Now()
	out, err := c.run(ctx, c.cfg.Args, terminate(q.SQL))
	if err != nil {
		return nil, err
	}
	return &domain.Response{Text: out, Elapsed: time.Since(start)}, nil
}

// Load 执行装载语句后用 COUNT(*) 读回表行数
func (c *Client) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	directive := req.Directive
	if directive == "" {
		directive = c.dialect.LoadDirective(req)
	}
	if err := c.Exec(ctx, directive); err != nil {
		return 0, err
	}
	return c.Count(ctx, req.Table)
}

// Count 返回表行数
func (c *Client) Count(ctx context.Context, table string) (int64, error) {
	out, err := c.run(ctx, c.cfg.LoadArgs, terminate(c.dialect.CountQuery(table)))
	if err != nil {
		return 0, err
	}
	m := countCellPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, domain.ParseFailure(out, "no count in COUNT(*) output for "+table)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// Close 无常驻进程
func (c *Client) Close() error { return nil }

// Factory 子进程引擎工厂
type Factory struct{}

func (f *Factory) GetType() string { return EngineType }

func (f *Factory) Dialect() string { return "quickstep" }

func (f *Factory) Create(cfg config.EngineConfig, logger logrus.FieldLogger) (engine.Client, error) {
	return NewClient(cfg.Shell, logger)
}

func init() {
	engine.RegisterFactory(&Factory{})
}
