package binder

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/record"
	"github.com/roach88/querybind/internal/semantic"
)

// Predicate is a bound $filter.
type Predicate struct {
	// Param is the element parameter (slot 0).
	Param *expr.Parameter

	// Expr is the finalized predicate: a non-nullable boolean.
	Expr expr.Expr

	program *expr.Program
}

// Match reports whether instance satisfies the predicate.
func (p *Predicate) Match(instance any) (bool, error) {
	return p.program.Match(instance)
}

// Program returns the compiled predicate.
func (p *Predicate) Program() *expr.Program { return p.program }

func (p *Predicate) String() string { return p.Expr.String() }

// BindFilter binds a $filter clause over elements of elementType.
func BindFilter(model *edm.Model, clause *semantic.FilterClause, elementType edm.Type, settings Settings) (*Predicate, error) {
	return bindFilter(newBinder("filter", model, settings), clause, elementType)
}

func bindFilter(b *binder, clause *semantic.FilterClause, elementType edm.Type) (*Predicate, error) {
	start := time.Now()
	log := b.settings.Logger.With("clause", "filter", "element", typeName(elementType))
	if clause == nil || clause.Expression == nil {
		return nil, fmt.Errorf("filter clause has no expression")
	}

	v := clause.RangeVariable
	if v == nil {
		v = semantic.It(elementType)
	}
	param, body, err := b.bindPredicate(v, clause.Expression)
	if err != nil {
		log.Warn("filter rejected", "error", err)
		return nil, err
	}
	prog, err := expr.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}

	log.Debug("bound filter",
		"expr", body.String(),
		"guards", expr.CountGuards(body),
		"propagate", b.propagate,
		"duration", time.Since(start))
	return &Predicate{Param: param, Expr: body, program: prog}, nil
}

// bindPredicate binds body in a scope for v and finalizes the result.
func (b *binder) bindPredicate(v *semantic.RangeVariable, body semantic.SingleValueNode) (*expr.Parameter, expr.Expr, error) {
	param := b.push(v)
	defer b.pop()

	e, err := b.bind(body)
	if err != nil {
		return nil, nil, err
	}
	if !isBooleanLike(e.Type()) {
		return nil, nil, NewTypeMismatchError(semantic.Format(body), "filter must be boolean, got %s", e.Type())
	}
	return param, expr.EliminateGuards(finalize(e)), nil
}

func typeName(t edm.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.FullName()
}

// OrderKey is one bound $orderby key.
type OrderKey struct {
	Expr      expr.Expr
	Direction semantic.OrderByDirection

	program *expr.Program
}

// Value evaluates the key for instance.
func (k *OrderKey) Value(instance any) (any, error) {
	return k.program.Eval(instance)
}

func (k *OrderKey) String() string {
	return k.Expr.String() + " " + k.Direction.String()
}

// Ordering is a bound $orderby: keys in priority order.
type Ordering struct {
	Param *expr.Parameter
	Keys  []*OrderKey
}

// KeyValues evaluates every key for instance.
func (o *Ordering) KeyValues(instance any) ([]any, error) {
	out := make([]any, len(o.Keys))
	for i, k := range o.Keys {
		v, err := k.Value(instance)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CompareKeys compares two results of KeyValues. Ties on a key fall through
// to the next one.
func (o *Ordering) CompareKeys(a, b []any) int {
	for i, k := range o.Keys {
		c := CompareOrdered(a[i], b[i])
		if k.Direction == semantic.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Sort orders items by the keys of o in place. Items with equal keys keep
// their input order.
func (o *Ordering) Sort(items []any) error {
	type keyed struct {
		item any
		keys []any
	}
	rows := make([]keyed, len(items))
	for i, it := range items {
		k, err := o.KeyValues(it)
		if err != nil {
			return err
		}
		rows[i] = keyed{item: it, keys: k}
	}
	slices.SortStableFunc(rows, func(a, b keyed) int {
		return o.CompareKeys(a.keys, b.keys)
	})
	for i, r := range rows {
		items[i] = r.item
	}
	return nil
}

func (o *Ordering) String() string {
	parts := make([]string, len(o.Keys))
	for i, k := range o.Keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// CompareOrdered orders two key values. Null sorts before any value. Values
// of different representations, which only dynamic properties produce, are
// ordered by their encoded form.
func CompareOrdered(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, err := expr.CompareValues(a, b); err == nil {
		return c
	}
	return strings.Compare(record.Key(a), record.Key(b))
}

// BindOrderBy binds an $orderby chain over elements of elementType.
func BindOrderBy(model *edm.Model, clause *semantic.OrderByClause, elementType edm.Type, settings Settings) (*Ordering, error) {
	return bindOrderBy(newBinder("orderby", model, settings), clause, elementType)
}

func bindOrderBy(b *binder, clause *semantic.OrderByClause, elementType edm.Type) (*Ordering, error) {
	start := time.Now()
	log := b.settings.Logger.With("clause", "orderby", "element", typeName(elementType))
	if clause == nil {
		return nil, fmt.Errorf("orderby clause is empty")
	}

	o := &Ordering{}
	seen := make(map[string]bool)
	usedIt := false
	for _, c := range clause.Keys() {
		if key, ok := orderKeyIdentity(c.Expression); ok {
			if key == "" {
				if usedIt {
					err := NewDuplicateKeyError("$it")
					log.Warn("orderby rejected", "error", err)
					return nil, err
				}
				usedIt = true
			} else {
				if seen[key] {
					err := NewDuplicateKeyError(key)
					log.Warn("orderby rejected", "error", err)
					return nil, err
				}
				seen[key] = true
			}
		}

		v := c.RangeVariable
		if v == nil {
			v = semantic.It(elementType)
		}
		param, e, err := b.bindKey(v, c.Expression)
		if err != nil {
			log.Warn("orderby rejected", "error", err)
			return nil, err
		}
		if o.Param == nil {
			o.Param = param
		}
		prog, err := expr.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile orderby key: %w", err)
		}
		o.Keys = append(o.Keys, &OrderKey{Expr: e, Direction: c.Direction, program: prog})
	}

	log.Debug("bound orderby", "keys", o.String(), "duration", time.Since(start))
	return o, nil
}

func (b *binder) bindKey(v *semantic.RangeVariable, body semantic.SingleValueNode) (*expr.Parameter, expr.Expr, error) {
	param := b.push(v)
	defer b.pop()

	e, err := b.bind(body)
	if err != nil {
		return nil, nil, err
	}
	t := e.Type()
	if t.Kind() == edm.KindCollection || t.Kind() == edm.KindComplex || t.PrimitiveKind().IsGeography() {
		return nil, nil, NewTypeMismatchError(semantic.Format(body), "cannot order by %s", t.AsNonNullable())
	}
	return param, expr.EliminateGuards(e), nil
}

// orderKeyIdentity returns the identity used to detect repeated keys: the
// property path, or "" for the range variable itself. Computed keys have no
// identity.
func orderKeyIdentity(n semantic.SingleValueNode) (string, bool) {
	if _, ok := n.(*semantic.RangeVariableReferenceNode); ok {
		return "", true
	}
	if _, _, ok := flattenPath(n); !ok {
		return "", false
	}
	return semantic.Format(n), true
}
