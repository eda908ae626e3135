package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/functions"
	"github.com/roach88/querybind/internal/queryir"
)

// SQLCompiler compiles QueryIR to SQL for SQLite.
//
// Parameterized constants become numbered bind parameters (?1, ?2, ...);
// other constants are inlined as escaped literals. Every Select ends its
// ORDER BY with rowid, so rows that tie on the requested keys come back in
// insertion order.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to SQL. Returns (sql, params, error) tuple.
// Queries outside the portable fragment fail with an UNSUPPORTED_CONSTRUCT
// compile error listing what could not be translated.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q); !res.IsPortable {
		return "", nil, binder.NewUnsupportedError("sql", strings.Join(res.Warnings, "; "))
	}

	w := &writer{}
	var sql string
	var err error
	switch query := q.(type) {
	case *queryir.Select:
		sql, err = w.compileSelect(query)
	case *queryir.Count:
		sql, err = w.compileCount(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
	if err != nil {
		return "", nil, err
	}
	return sql, w.params, nil
}

// writer collects bind parameters for one compilation.
type writer struct {
	params []any
}

func (w *writer) param(v any) string {
	w.params = append(w.params, v)
	return "?" + strconv.Itoa(len(w.params))
}

func (w *writer) compileSelect(q *queryir.Select) (string, error) {
	selected := q.Selected()
	if len(selected) == 0 {
		return "", fmt.Errorf("table %s has no columns", q.From.Name)
	}
	cols := make([]string, len(selected))
	for i, col := range selected {
		cols[i] = quoteIdent(col.Name)
	}

	var b strings.Builder
	b.WriteString("SELECT " + strings.Join(cols, ", ") + " FROM " + quoteIdent(q.From.Name))
	if err := w.where(&b, q.Where); err != nil {
		return "", err
	}

	b.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		key, err := w.render(o.Key)
		if err != nil {
			return "", fmt.Errorf("compile order key %s: %w", o.Key, err)
		}
		b.WriteString(key)
		if o.Descending {
			b.WriteString(" DESC, ")
		} else {
			b.WriteString(" ASC, ")
		}
	}
	b.WriteString("rowid ASC")

	switch {
	case q.Limit != nil:
		b.WriteString(" LIMIT " + w.param(int64(*q.Limit)))
	case q.Offset != nil:
		b.WriteString(" LIMIT -1")
	}
	if q.Offset != nil {
		b.WriteString(" OFFSET " + w.param(int64(*q.Offset)))
	}
	return b.String(), nil
}

func (w *writer) compileCount(q *queryir.Count) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM " + quoteIdent(q.From.Name))
	if err := w.where(&b, q.Where); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (w *writer) where(b *strings.Builder, e expr.Expr) error {
	if e == nil {
		return nil
	}
	s, err := w.render(e)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}
	b.WriteString(" WHERE " + s)
	return nil
}

var sqlOps = map[expr.Op]string{
	expr.OpEq:  "=",
	expr.OpNe:  "<>",
	expr.OpLt:  "<",
	expr.OpLe:  "<=",
	expr.OpGt:  ">",
	expr.OpGe:  ">=",
	expr.OpAnd: "AND",
	expr.OpOr:  "OR",
	expr.OpAdd: "+",
	expr.OpSub: "-",
	expr.OpMul: "*",
	expr.OpDiv: "/",
	expr.OpMod: "%",
}

func (w *writer) render(e expr.Expr) (string, error) {
	switch e := e.(type) {
	case *expr.Constant:
		return w.constant(e)
	case *expr.Member:
		return quoteIdent(e.Property.Name), nil
	case *expr.Binary:
		return w.binary(e)
	case *expr.Unary:
		s, err := w.render(e.Operand)
		if err != nil {
			return "", err
		}
		if e.Op == expr.OpNot {
			return "(NOT " + s + ")", nil
		}
		return "(-" + s + ")", nil
	case *expr.Convert:
		return w.convert(e)
	case *expr.Call:
		return w.call(e)
	case *expr.Guard:
		// NULL already propagates through SQL operators and functions.
		return w.render(e.Body)
	case *expr.IsTrue:
		s, err := w.render(e.Operand)
		if err != nil {
			return "", err
		}
		return "(" + s + " IS TRUE)", nil
	case *expr.In:
		return w.in(e)
	}
	return "", binder.NewUnsupportedError("sql", fmt.Sprintf("%T", e))
}

func (w *writer) constant(e *expr.Constant) (string, error) {
	if e.Value == nil {
		return "NULL", nil
	}
	v, err := ToSQL(e.Value)
	if err != nil {
		return "", binder.NewUnsupportedError("sql", err.Error())
	}
	if e.Parameterized {
		return w.param(v), nil
	}
	return literal(v), nil
}

func isNullConstant(e expr.Expr) bool {
	c, ok := e.(*expr.Constant)
	return ok && c.Value == nil
}

func isZero(e expr.Expr) bool {
	c, ok := e.(*expr.Constant)
	return ok && c.Value == int64(0)
}

func (w *writer) binary(e *expr.Binary) (string, error) {
	op := sqlOps[e.Op]
	left, right := e.Left, e.Right

	switch {
	case e.Op == expr.OpHas:
		l, err := w.render(left)
		if err != nil {
			return "", err
		}
		r, err := w.render(right)
		if err != nil {
			return "", err
		}
		return "((" + l + " & " + r + ") = " + r + ")", nil

	case e.Op.IsComparison():
		if c, ok := left.(*expr.Call); ok && c.Func.Name == functions.StringCompare.Name && isZero(right) {
			left, right = c.Args[0], c.Args[1]
		}
		if e.Op == expr.OpEq || e.Op == expr.OpNe {
			if isNullConstant(right) {
				left, right = right, left
			}
			if isNullConstant(left) {
				s, err := w.render(right)
				if err != nil {
					return "", err
				}
				if e.Op == expr.OpEq {
					return "(" + s + " IS NULL)", nil
				}
				return "(" + s + " IS NOT NULL)", nil
			}
			if !e.LiftToNull && (left.Type().Nullable || right.Type().Nullable) {
				op = map[expr.Op]string{expr.OpEq: "IS", expr.OpNe: "IS NOT"}[e.Op]
			}
		}

	case e.Op.IsArithmetic():
		if left.Type().PrimitiveKind().IsTemporal() || right.Type().PrimitiveKind().IsTemporal() {
			return "", binder.NewUnsupportedError("sql", "date and time arithmetic "+e.String())
		}
	}

	l, err := w.render(left)
	if err != nil {
		return "", err
	}
	r, err := w.render(right)
	if err != nil {
		return "", err
	}
	return "(" + l + " " + op + " " + r + ")", nil
}

func (w *writer) convert(e *expr.Convert) (string, error) {
	from := e.Operand.Type()
	if from.Kind() == edm.KindUntyped {
		return "", binder.NewUnsupportedError("sql", "conversion of an untyped value "+e.String())
	}
	inner, err := w.render(e.Operand)
	if err != nil {
		return "", err
	}
	fk, tk := from.PrimitiveKind(), e.T.PrimitiveKind()
	switch {
	case from.Enum() != nil || e.T.Enum() != nil:
		return inner, nil
	case fk.IsTemporal():
		if tk.IsTemporal() && tk != fk {
			return "", binder.NewUnsupportedError("sql", "conversion "+e.String())
		}
		// The encoded text orders like the value itself.
		return inner, nil
	case tk.IsIntegral():
		if fk.IsIntegral() || fk == edm.Boolean {
			return inner, nil
		}
		return "CAST(" + inner + " AS INTEGER)", nil
	case tk.IsFloating() || tk == edm.Decimal:
		if fk.IsFloating() || fk == edm.Decimal {
			return inner, nil
		}
		return "CAST(" + inner + " AS REAL)", nil
	case tk == edm.String && fk != edm.String:
		return "CAST(" + inner + " AS TEXT)", nil
	}
	return inner, nil
}

func (w *writer) in(e *expr.In) (string, error) {
	operand, err := w.render(e.Operand)
	if err != nil {
		return "", err
	}
	if len(e.Items) == 0 {
		return "0", nil
	}
	items := make([]string, len(e.Items))
	for i, it := range e.Items {
		if items[i], err = w.render(it); err != nil {
			return "", err
		}
	}
	return "(" + operand + " IN (" + strings.Join(items, ", ") + "))", nil
}
