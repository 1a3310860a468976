package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Dialect 封装不同引擎的语句差异
type Dialect interface {
	// Name 方言名称
	Name() string

	// QuoteIdentifier 按方言引用表名或列名
	QuoteIdentifier(name string) string

	// CreateTable 创建全整数列的表
	CreateTable(table string, columns []string) string

	// DropTable 删除已存在的同名表，不支持时返回空串
	DropTable(table string) string

	// LoadDirective 批量装载语句
	LoadDirective(req *domain.LoadRequest) string

	// StatisticsDirective 构建统计信息（直方图）的语句，不支持时返回空串
	StatisticsDirective(table string, columns []string) string

	// BaselineDirective 阻止引擎自动收集统计信息的语句，不需要时返回空串
	BaselineDirective(table string) string

	// CountQuery 查询表总行数
	CountQuery(table string) string
}

var dialects = map[string]Dialect{}

// RegisterDialect 注册方言
func RegisterDialect(d Dialect) {
	dialects[d.Name()] = d
}

// GetDialect 按名称获取方言
func GetDialect(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "unsupported dialect: %s", name)
	}
	return d, nil
}

// Dialects 返回已注册的方言名称
func Dialects() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDialect(&QuickstepDialect{})
	RegisterDialect(&PostgreSQLDialect{})
	RegisterDialect(&MySQLDialect{})
	RegisterDialect(&MemoryDialect{})
}

func columnList(d Dialect, columns []string, typ string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = d.QuoteIdentifier(col)
		if typ != "" {
			parts[i] += " " + typ
		}
	}
	return strings.Join(parts, ", ")
}

// quoteLiteral 单引号字符串字面量
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// delimiterLiteral 分隔符字面量，制表符写作转义形式
func delimiterLiteral(r rune) string {
	if r == '\t' {
		return `'\t'`
	}
	return quoteLiteral(string(r))
}

// QuickstepDialect Quickstep 命令行外壳的语法
type QuickstepDialect struct{}

func (d *QuickstepDialect) Name() string { return "quickstep" }

func (d *QuickstepDialect) QuoteIdentifier(name string) string { return name }

func (d *QuickstepDialect) CreateTable(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s);", table, columnList(d, columns, "INTEGER"))
}

func (d *QuickstepDialect) DropTable(table string) string { return "" }

func (d *QuickstepDialect) LoadDirective(req *domain.LoadRequest) string {
	return fmt.Sprintf("COPY %s FROM %s WITH (DELIMITER %s);",
		req.Table, quoteLiteral(req.File), delimiterLiteral(req.Delimiter))
}

func (d *QuickstepDialect) StatisticsDirective(table string, columns []string) string {
	return `\histogram ` + table
}

func (d *QuickstepDialect) BaselineDirective(table string) string { return "" }

func (d *QuickstepDialect) CountQuery(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s;", table)
}

// PostgreSQLDialect PostgreSQL 语法
type PostgreSQLDialect struct{}

func (d *PostgreSQLDialect) Name() string { return "postgres" }

func (d *PostgreSQLDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *PostgreSQLDialect) CreateTable(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdentifier(table), columnList(d, columns, "INTEGER"))
}

func (d *PostgreSQLDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d *PostgreSQLDialect) LoadDirective(req *domain.LoadRequest) string {
	return fmt.Sprintf("COPY %s (%s) FROM %s WITH (FORMAT csv, DELIMITER %s)",
		d.QuoteIdentifier(req.Table), columnList(d, req.Columns, ""),
		quoteLiteral(req.File), delimiterLiteral(req.Delimiter))
}

func (d *PostgreSQLDialect) StatisticsDirective(table string, columns []string) string {
	return "ANALYZE " + d.QuoteIdentifier(table)
}

// BaselineDirective 关闭 autovacuum，避免后台 ANALYZE 为基线表生成统计信息
func (d *PostgreSQLDialect) BaselineDirective(table string) string {
	return fmt.Sprintf("ALTER TABLE %s SET (autovacuum_enabled = false)", d.QuoteIdentifier(table))
}

func (d *PostgreSQLDialect) CountQuery(table string) string {
	return "SELECT COUNT(*) FROM " + d.QuoteIdentifier(table)
}

// MySQLDialect MySQL 8 语法
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string { return "mysql" }

func (d *MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MySQLDialect) CreateTable(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdentifier(table), columnList(d, columns, "INT"))
}

func (d *MySQLDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d *MySQLDialect) LoadDirective(req *domain.LoadRequest) string {
	file := strings.ReplaceAll(req.File, `\`, `\\`)
	return fmt.Sprintf("LOAD DATA LOCAL INFILE %s INTO TABLE %s FIELDS TERMINATED BY %s LINES TERMINATED BY '\\n' (%s)",
		quoteLiteral(file), d.QuoteIdentifier(req.Table), delimiterLiteral(req.Delimiter), columnList(d, req.Columns, ""))
}

// StatisticsDirective MySQL 8 的列直方图
func (d *MySQLDialect) StatisticsDirective(table string, columns []string) string {
	return fmt.Sprintf("ANALYZE TABLE %s UPDATE HISTOGRAM ON %s WITH 100 BUCKETS",
		d.QuoteIdentifier(table), columnList(d, columns, ""))
}

func (d *MySQLDialect) BaselineDirective(table string) string { return "" }

func (d *MySQLDialect) CountQuery(table string) string {
	return "SELECT COUNT(*) FROM " + d.QuoteIdentifier(table)
}

// MemoryDialect 进程内引擎使用的 MySQL 兼容语法
type MemoryDialect struct{}

func (d *MemoryDialect) Name() string { return "memory" }

func (d *MemoryDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MemoryDialect) CreateTable(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdentifier(table), columnList(d, columns, "INT"))
}

func (d *MemoryDialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d *MemoryDialect) LoadDirective(req *domain.LoadRequest) string {
	return fmt.Sprintf("LOAD DATA INFILE %s INTO TABLE %s FIELDS TERMINATED BY %s",
		quoteLiteral(req.File), d.QuoteIdentifier(req.Table), delimiterLiteral(req.Delimiter))
}

func (d *MemoryDialect) StatisticsDirective(table string, columns []string) string {
	return "ANALYZE TABLE " + d.QuoteIdentifier(table)
}

func (d *MemoryDialect) BaselineDirective(table string) string { return "" }

func (d *MemoryDialect) CountQuery(table string) string {
	return "SELECT COUNT(*) FROM " + d.QuoteIdentifier(table)
}
