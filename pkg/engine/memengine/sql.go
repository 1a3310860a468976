package memengine

import (
	"math"
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/statistics"
)

// StatementKind 支持的语句类型
type StatementKind int

const (
	StmtCreate StatementKind = iota
	StmtDrop
	StmtAnalyze
	StmtSelect
)

// Statement 解析后的语句
type Statement struct {
	Kind     StatementKind
	Table    string
	Columns  []string
	IfExists bool
	// Filters WHERE 中的合取比较谓词
	Filters []statistics.Filter
}

// Condition 渲染 WHERE 条件，用于计划输出
func (s *Statement) Condition() string {
	parts := make([]string, len(s.Filters))
	for i, f := range s.Filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, " AND ")
}

// comparisonOps 支持的比较运算符
var comparisonOps = map[opcode.Op]string{
	opcode.GT: ">",
	opcode.GE: ">=",
	opcode.LT: "<",
	opcode.LE: "<=",
	opcode.EQ: "=",
}

// flipped 交换左右操作数后的运算符
var flipped = map[string]string{
	">":  "<",
	">=": "<=",
	"<":  ">",
	"<=": ">=",
	"=":  "=",
}

// SQLParser TiDB parser 的并发安全包装
type SQLParser struct {
	mu     sync.Mutex
	parser *parser.Parser
}

// NewSQLParser 创建解析器
func NewSQLParser() *SQLParser {
	return &SQLParser{parser: parser.New()}
}

// Parse 解析单条语句
func (p *SQLParser) Parse(sql string) (*Statement, error) {
	p.mu.Lock()
	stmts, _, err := p.parser.ParseSQL(sql)
	p.mu.Unlock()
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeInvalidParameters, "SQL parse error")
	}
	if len(stmts) != 1 {
		return nil, domain.InvalidParameters("expected one statement, got %d", len(stmts))
	}
	return convertStmt(stmts[0])
}

func convertStmt(node ast.StmtNode) (*Statement, error) {
	switch n := node.(type) {
	case *ast.CreateTableStmt:
		stmt := &Statement{Kind: StmtCreate, Table: n.Table.Name.String()}
		for _, col := range n.Cols {
			stmt.Columns = append(stmt.Columns, col.Name.Name.L)
		}
		return stmt, nil

	case *ast.DropTableStmt:
		if len(n.Tables) != 1 {
			return nil, domain.Errorf(domain.ErrCodeNotSupported, "DROP TABLE with %d tables", len(n.Tables))
		}
		return &Statement{Kind: StmtDrop, Table: n.Tables[0].Name.String(), IfExists: n.IfExists}, nil

	case *ast.AnalyzeTableStmt:
		if len(n.TableNames) != 1 {
			return nil, domain.Errorf(domain.ErrCodeNotSupported, "ANALYZE TABLE with %d tables", len(n.TableNames))
		}
		return &Statement{Kind: StmtAnalyze, Table: n.TableNames[0].Name.String()}, nil

	case *ast.ExplainStmt:
		return convertStmt(n.Stmt)

	case *ast.SelectStmt:
		return convertSelect(n)
	}
	return nil, domain.Errorf(domain.ErrCodeNotSupported, "unsupported statement %T", node)
}

func convertSelect(n *ast.SelectStmt) (*Statement, error) {
	if n.From == nil || n.From.TableRefs == nil || n.From.TableRefs.Right != nil {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "SELECT must read exactly one table")
	}
	source, ok := n.From.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "unsupported FROM clause")
	}
	name, ok := source.Source.(*ast.TableName)
	if !ok {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "unsupported FROM clause")
	}

	stmt := &Statement{Kind: StmtSelect, Table: name.Name.String()}
	if n.Where != nil {
		if err := collectFilters(n.Where, &stmt.Filters); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// collectFilters 把 AND 连接的 列 op 常量 谓词展开为 Filter
func collectFilters(expr ast.ExprNode, out *[]statistics.Filter) error {
	switch n := expr.(type) {
	case *ast.ParenthesesExpr:
		return collectFilters(n.Expr, out)

	case *ast.BinaryOperationExpr:
		if n.Op == opcode.LogicAnd {
			if err := collectFilters(n.L, out); err != nil {
				return err
			}
			return collectFilters(n.R, out)
		}
		op, ok := comparisonOps[n.Op]
		if !ok {
			return domain.Errorf(domain.ErrCodeNotSupported, "unsupported operator %s", n.Op)
		}

		colExpr, value := n.L, n.R
		if _, isCol := colExpr.(*ast.ColumnNameExpr); !isCol {
			colExpr, value = n.R, n.L
			op = flipped[op]
		}
		col, ok := colExpr.(*ast.ColumnNameExpr)
		if !ok {
			return domain.Errorf(domain.ErrCodeNotSupported, "comparison must have a column operand")
		}
		v, err := intLiteral(value)
		if err != nil {
			return err
		}
		*out = append(*out, statistics.Filter{Field: col.Name.Name.L, Operator: op, Value: v})
		return nil
	}
	return domain.Errorf(domain.ErrCodeNotSupported, "unsupported predicate %T", expr)
}

// intLiteral 读取整数常量，支持一元负号
func intLiteral(expr ast.ExprNode) (int64, error) {
	switch n := expr.(type) {
	case *ast.ParenthesesExpr:
		return intLiteral(n.Expr)
	case *ast.UnaryOperationExpr:
		if n.Op != opcode.Minus {
			break
		}
		v, err := intLiteral(n.V)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case ast.ValueExpr:
		switch v := n.GetValue().(type) {
		case int64:
			return v, nil
		case uint64:
			if v > math.MaxInt64 {
				return 0, domain.InvalidParameters("integer literal %d out of range", v)
			}
			return int64(v), nil
		default:
			return 0, domain.InvalidParameters("literal %v is not an integer", v)
		}
	}
	return 0, domain.Errorf(domain.ErrCodeNotSupported, "unsupported operand %T", expr)
}
