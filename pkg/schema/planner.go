package schema

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TablePlan 一张表在引擎中落地所需的全部语句
type TablePlan struct {
	Table   domain.TableSpec    `json:"table"`
	Columns []string            `json:"columns"`
	Dialect string              `json:"dialect"`
	Drop    string              `json:"drop,omitempty"`
	Create  string              `json:"create"`
	Load    *domain.LoadRequest `json:"load"`
	// Statistics 仅统计信息表非空
	Statistics string `json:"statistics,omitempty"`
	// Baseline 仅基线表可能非空
	Baseline string `json:"baseline,omitempty"`
}

// Plan 为一张表生成建表、装载与（可选）统计语句
func Plan(spec domain.TableSpec, file string, delim rune, dialect Dialect) (*TablePlan, error) {
	if spec.Dims < 1 {
		return nil, domain.InvalidParameters("table %s: dimensionality must be >= 1, got %d", spec.Name, spec.Dims)
	}
	if !tableNamePattern.MatchString(spec.Name) {
		return nil, domain.InvalidParameters("invalid table name %q", spec.Name)
	}
	if file == "" {
		return nil, domain.InvalidParameters("table %s: data file must not be empty", spec.Name)
	}

	columns := ColumnNames(spec.Dims)
	load := &domain.LoadRequest{
		Table:     spec.Name,
		Columns:   columns,
		File:      file,
		Delimiter: delim,
	}
	load.Directive = dialect.LoadDirective(load)

	plan := &TablePlan{
		Table:   spec,
		Columns: columns,
		Dialect: dialect.Name(),
		Drop:    dialect.DropTable(spec.Name),
		Create:  dialect.CreateTable(spec.Name, columns),
		Load:    load,
	}
	if spec.WithStatistics {
		plan.Statistics = dialect.StatisticsDirective(spec.Name, columns)
	} else {
		plan.Baseline = dialect.BaselineDirective(spec.Name)
	}
	return plan, nil
}

// PlanPair 为同一份数据生成统计信息表与无统计信息基线表
func PlanPair(spec domain.TableSpec, file string, delim rune, dialect Dialect) (stats, baseline *TablePlan, err error) {
	spec.WithStatistics = true
	stats, err = Plan(spec, file, delim, dialect)
	if err != nil {
		return nil, nil, err
	}
	baseline, err = Plan(spec.Baseline(), file, delim, dialect)
	if err != nil {
		return nil, nil, err
	}
	return stats, baseline, nil
}

// setupStatements 装载前执行的语句
// 顺序为 drop、create、baseline，statistics 在装载之后执行
func (p *TablePlan) setupStatements() []string {
	stmts := make([]string, 0, 3)
	for _, s := range []string{p.Drop, p.Create, p.Baseline} {
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// Script 渲染为可直接交给引擎外壳的文本脚本
func (p *TablePlan) Script() string {
	var sb strings.Builder
	for _, s := range p.setupStatements() {
		sb.WriteString(terminate(s))
	}
	sb.WriteString(terminate(p.Load.Directive))
	if p.Statistics != "" {
		sb.WriteString(terminate(p.Statistics))
	}
	return sb.String()
}

// Script 依次渲染多张表
func Script(plans ...*TablePlan) string {
	var sb strings.Builder
	for _, p := range plans {
		sb.WriteString(p.Script())
	}
	return sb.String()
}

// terminate 补齐分号；反斜杠命令不加分号
func terminate(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if !strings.HasPrefix(stmt, `\`) && !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt + "\n"
}

// Loader 执行计划所需的引擎能力
type Loader interface {
	Exec(ctx context.Context, stmt string) error
	Load(ctx context.Context, req *domain.LoadRequest) (int64, error)
}

// Apply 在引擎中执行计划，返回装载后的表行数
func Apply(ctx context.Context, loader Loader, plan *TablePlan, logger logrus.FieldLogger) (int64, error) {
	log := logger.WithField("table", plan.Table.Name)

	for _, stmt := range plan.setupStatements() {
		log.WithField("stmt", stmt).Debug("exec")
		if err := loader.Exec(ctx, stmt); err != nil {
			return 0, err
		}
	}

	log.WithField("file", plan.Load.File).Debug("load")
	rows, err := loader.Load(ctx, plan.Load)
	if err != nil {
		return 0, err
	}

	if plan.Statistics != "" {
		log.WithField("stmt", plan.Statistics).Debug("build statistics")
		if err := loader.Exec(ctx, plan.Statistics); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// CheckLoadCount 装载行数与生成行数不一致时返回 LOAD_COUNT_MISMATCH，调用方记录警告后继续
func CheckLoadCount(table string, expected, got int64) error {
	if expected == got {
		return nil
	}
	return domain.Errorf(domain.ErrCodeLoadCountMismatch,
		"table %s: loaded %d rows, generated %d", table, got, expected)
}
