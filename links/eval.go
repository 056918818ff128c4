package links

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/zoobzio/linkz"
)

// Expression link kinds.
var (
	RowEvalKind = linkz.Kind{Category: "dataframe", Class: "RowEval"}
	DfEvalKind  = linkz.Kind{Category: "dataframe", Class: "DfEval"}
)

// Names bound in every expression environment besides the row's columns.
const (
	rowVar   = "row"
	tableVar = "table"
)

// expression is a compiled expr-lang program over the columns of a row.
//
// Columns are plain identifiers (mass * 2). Names that are not identifiers
// go in backticks (`log p` > 0) or through the row map (row["log p"]);
// row.mass works too. Backticks therefore never start a raw string.
type expression struct {
	program *vm.Program
	columns []string
	table   bool
}

// compileExpression parses and compiles source. With table set, the
// expression may also read whole columns through table.<name>.
func compileExpression(source string, table bool) (*expression, error) {
	rewritten, err := quoteColumns(source)
	if err != nil {
		return nil, err
	}
	tree, err := parser.Parse(rewritten)
	if err != nil {
		return nil, err
	}
	cols := &columnCollector{skip: map[string]bool{rowVar: true}}
	if table {
		cols.skip[tableVar] = true
	}
	ast.Walk(&tree.Node, cols)

	program, err := expr.Compile(rewritten)
	if err != nil {
		return nil, err
	}
	return &expression{program: program, columns: cols.columns(), table: table}, nil
}

// eval runs the expression against one row. tbl is only read when the
// expression was compiled with table access.
func (e *expression) eval(r linkz.Row, tbl map[string]any) (any, error) {
	env := make(map[string]any, len(r.Columns())+2)
	for _, c := range r.Columns() {
		env[c], _ = r.Get(c)
	}
	env[rowVar] = env
	if e.table {
		env[tableVar] = tbl
	}
	v, err := expr.Run(e.program, env)
	if err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize widens integer results to float64, the table's number type.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return v
}

// quoteColumns rewrites `name` into row["name"]. Quoted strings are copied
// untouched.
func quoteColumns(source string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch c {
		case '\'', '"':
			end := i + 1
			for end < len(source) && source[end] != c {
				if source[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(source) {
				// leave it to the parser to report
				b.WriteString(source[i:])
				return b.String(), nil
			}
			b.WriteString(source[i : end+1])
			i = end
		case '`':
			end := strings.IndexByte(source[i+1:], '`')
			if end < 0 {
				return "", fmt.Errorf("unterminated column name at offset %d", i)
			}
			b.WriteString(rowVar + "[" + strconv.Quote(source[i+1:i+1+end]) + "]")
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// columnCollector gathers the column names an expression reads.
type columnCollector struct {
	skip  map[string]bool
	funcs map[string]bool
	names []string
}

func (c *columnCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.names = append(c.names, n.Value)
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			if c.funcs == nil {
				c.funcs = make(map[string]bool)
			}
			c.funcs[id.Value] = true
		}
	case *ast.VariableDeclaratorNode:
		c.skip[n.Name] = true
	case *ast.MemberNode:
		id, ok := n.Node.(*ast.IdentifierNode)
		if !ok || !c.skip[id.Value] || (id.Value != rowVar && id.Value != tableVar) {
			return
		}
		if s, ok := n.Property.(*ast.StringNode); ok {
			c.names = append(c.names, s.Value)
		}
	}
}

func (c *columnCollector) columns() []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range c.names {
		if c.skip[name] || c.funcs[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// RowEval evaluates an expression on every row and writes the result to
// outColumn, e.g.
//
//	RowEval("row.mass / 1000", "mass_kg")
//
// A row whose evaluation fails is marked in the error column. Integer
// results are stored as float64.
func RowEval(evalStr, outColumn string) (*linkz.RowLink, error) {
	if outColumn == "" || linkz.IsReserved(outColumn) {
		return nil, &linkz.ConfigurationError{Class: RowEvalKind.String(), Param: "out_column",
			Err: fmt.Errorf("invalid output column %q", outColumn)}
	}
	e, err := compileExpression(evalStr, false)
	if err != nil {
		return nil, &linkz.ConfigurationError{Class: RowEvalKind.String(), Param: "eval_str", Err: err}
	}
	params := linkz.Params{"eval_str": evalStr, "out_column": outColumn}
	return linkz.NewRowLink(RowEvalKind, params,
		func(_ context.Context, r linkz.Row) (linkz.Row, error) {
			v, err := e.eval(r, nil)
			if err != nil {
				return r, err
			}
			r.Set(outColumn, v)
			return r, nil
		}, e.columns...), nil
}

// DfEval evaluates an expression over the whole table and stores the result
// as a column. Besides the row's columns the expression can read whole
// columns as lists through table, so
//
//	DfEval("mass / max(table.mass)", "relative_mass")
//
// scales against the heaviest row. With an empty outColumn the expression
// must be an assignment naming the column itself:
//
//	DfEval("relative_mass = mass / max(table.mass)", "")
//
// Unlike RowEval, a row that fails to evaluate fails the whole link.
func DfEval(evalStr, outColumn string) (*linkz.Unit, error) {
	params := linkz.Params{"eval_str": evalStr, "out_column": outColumn}
	source, target := evalStr, outColumn
	if target == "" {
		var ok bool
		if target, source, ok = splitAssignment(evalStr); !ok {
			return nil, &linkz.ConfigurationError{Class: DfEvalKind.String(), Param: "eval_str",
				Err: errors.New("without out_column the expression must assign a column, as in 'c = a + b'")}
		}
	}
	if linkz.IsReserved(target) {
		return nil, &linkz.ConfigurationError{Class: DfEvalKind.String(), Param: "out_column",
			Err: fmt.Errorf("%q is a reserved column name", target)}
	}
	e, err := compileExpression(source, true)
	if err != nil {
		return nil, &linkz.ConfigurationError{Class: DfEvalKind.String(), Param: "eval_str", Err: err}
	}

	return linkz.NewUnit(DfEvalKind, params,
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			columns := make(map[string]any, len(t.Columns()))
			for _, c := range t.Columns() {
				columns[c], _ = t.Column(c)
			}
			values := make([]any, t.Len())
			for i := range values {
				r := t.Row(i)
				v, err := e.eval(r, columns)
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", r.Label, err)
				}
				values[i] = v
			}
			if err := t.SetColumn(target, values); err != nil {
				return nil, err
			}
			logger(DfEvalKind).Debug("evaluated column", "column", target, "rows", t.Len())
			return t, nil
		}, e.columns...), nil
}

// splitAssignment splits "name = expr" at its single '='. The target is an
// identifier or a backticked column name.
func splitAssignment(s string) (target, source string, ok bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '=':
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.ContainsRune("!<>=", rune(s[i-1])) {
				continue
			}
			target = strings.TrimSpace(s[:i])
			source = strings.TrimSpace(s[i+1:])
			if len(target) > 2 && target[0] == '`' && target[len(target)-1] == '`' {
				target = target[1 : len(target)-1]
			} else if !isIdentifier(target) {
				return "", "", false
			}
			return target, source, source != ""
		}
	}
	return "", "", false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
