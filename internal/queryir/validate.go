package queryir

import (
	"fmt"

	"github.com/roach88/querybind/internal/expr"
)

// ValidationResult contains portability analysis of a query.
type ValidationResult struct {
	// IsPortable indicates if the query uses only portable fragment features.
	IsPortable bool

	// Warnings lists the constructs outside the portable fragment, once
	// each, in the order they were found. Empty when IsPortable is true.
	Warnings []string
}

// Validate checks if a query stays inside the portable fragment: every
// expression reads only columns of its table through the row parameter and
// uses no construct that needs a join or subquery.
//
// Validate is a pure function with no side effects.
func Validate(q Query) ValidationResult {
	v := &validator{seen: make(map[string]bool)}
	switch q := q.(type) {
	case *Select:
		if q == nil || q.From == nil {
			v.addWarning("select has no table")
			break
		}
		v.table = q.From
		v.validateExpr(q.Where)
		for _, o := range q.OrderBy {
			v.validateExpr(o.Key)
		}
	case *Count:
		if q == nil || q.From == nil {
			v.addWarning("count has no table")
			break
		}
		v.table = q.From
		v.validateExpr(q.Where)
	default:
		v.addWarning("unknown query type: %T", q)
	}

	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	table    *Table
	warnings []string
	seen     map[string]bool
}

func (v *validator) addWarning(format string, args ...any) {
	w := fmt.Sprintf(format, args...)
	if v.seen[w] {
		return
	}
	v.seen[w] = true
	v.warnings = append(v.warnings, w)
}

func (v *validator) validateExpr(e expr.Expr) {
	expr.Walk(e, func(n expr.Expr) bool {
		switch n := n.(type) {
		case *expr.Member:
			v.validateMember(n)
			return false
		case *expr.Parameter:
			v.addWarning("%s is used as a value; only its columns can be read", n.Name)
		case *expr.DynamicMember:
			v.addWarning("dynamic property %q has no column", n.Name)
			return false
		case *expr.WrapperField:
			v.addWarning("aggregated field %s is produced by $apply", n.Path)
			return false
		case *expr.Quantifier:
			v.addWarning("%s over %s needs a subquery", n.Kind, n.Source)
			return false
		case *expr.Count:
			v.addWarning("$count of %s needs a subquery", n.Source)
			return false
		case *expr.TypeCheck:
			v.addWarning("type check against %s needs the instance type", n.Target.FullName())
			return false
		case *expr.Aggregate:
			v.addWarning("aggregate %s is evaluated over groups", n)
			return false
		case *expr.Constant:
			if k := n.T.PrimitiveKind(); k.IsGeography() {
				v.addWarning("%s literal has no column representation", k)
			}
		}
		return true
	})
}

func (v *validator) validateMember(m *expr.Member) {
	if _, ok := m.Source.(*expr.Parameter); !ok {
		v.addWarning("property %s is reached through %s and needs a join", m.Property.Name, m.Source)
		return
	}
	if _, ok := v.table.Column(m.Property); !ok {
		v.addWarning("property %s of %s has no column", m.Property.Name, v.table.Name)
		return
	}
	if m.Property.Type.PrimitiveKind().IsGeography() {
		v.addWarning("property %s is %s, which has no comparable column", m.Property.Name, m.Property.Type)
	}
}
