package expr

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/record"
)

// Env holds the parameter slots of one evaluation. An Env must not be shared
// between concurrent evaluations.
type Env struct {
	slots []any
}

type evalFunc func(env *Env) (any, error)

// Program is a compiled expression. It holds no mutable state and may be
// evaluated concurrently.
type Program struct {
	root  Expr
	eval  evalFunc
	slots int
}

// Compile compiles e to closures.
func Compile(e Expr) (*Program, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot compile nil expression")
	}
	slots := 0
	Walk(e, func(n Expr) bool {
		for _, p := range parametersOf(n) {
			if p.Slot+1 > slots {
				slots = p.Slot + 1
			}
		}
		return true
	})
	f, err := compile(e)
	if err != nil {
		return nil, err
	}
	return &Program{root: e, eval: f, slots: slots}, nil
}

func parametersOf(n Expr) []*Parameter {
	switch n := n.(type) {
	case *Parameter:
		return []*Parameter{n}
	case *Quantifier:
		if n.Param != nil {
			return []*Parameter{n.Param}
		}
	case *Count:
		if n.Param != nil {
			return []*Parameter{n.Param}
		}
	case *Aggregate:
		if n.Param != nil {
			return []*Parameter{n.Param}
		}
	}
	return nil
}

// Expr returns the compiled expression.
func (p *Program) Expr() Expr { return p.root }

// Eval evaluates the program with bindings assigned to slots 0, 1, ...
func (p *Program) Eval(bindings ...any) (any, error) {
	env := &Env{slots: make([]any, max(p.slots, len(bindings)))}
	copy(env.slots, bindings)
	return p.eval(env)
}

// Match evaluates a boolean program. A null result is false.
func (p *Program) Match(bindings ...any) (bool, error) {
	v, err := p.Eval(bindings...)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func compile(e Expr) (evalFunc, error) {
	switch e := e.(type) {
	case *Constant:
		v := e.Value
		return func(*Env) (any, error) { return v, nil }, nil

	case *Parameter:
		slot := e.Slot
		return func(env *Env) (any, error) { return env.slots[slot], nil }, nil

	case *Member:
		src, err := compile(e.Source)
		if err != nil {
			return nil, err
		}
		prop := e.Property
		return func(env *Env) (any, error) {
			s, err := src(env)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, fail(e, ErrNullReference)
			}
			v, err := prop.Get(s)
			if err != nil {
				return nil, fail(e, err)
			}
			return v, nil
		}, nil

	case *DynamicMember:
		return compileDynamicMember(e)

	case *WrapperField:
		src, err := compile(e.Source)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			s, err := src(env)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, fail(e, ErrNullReference)
			}
			w, ok := s.(*record.GroupByWrapper)
			if !ok {
				return nil, fail(e, fmt.Errorf("%w: %T is not a grouped row", ErrInvalidValue, s))
			}
			v, _ := w.Get(e.Path)
			return v, nil
		}, nil

	case *Binary:
		return compileBinary(e)

	case *Unary:
		operand, err := compile(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil || v == nil {
				return nil, err
			}
			if e.Op == OpNot {
				b, ok := v.(bool)
				if !ok {
					return nil, fail(e, fmt.Errorf("%w: not over %T", ErrInvalidValue, v))
				}
				return !b, nil
			}
			n, err := Negate(v)
			if err != nil {
				return nil, fail(e, err)
			}
			return n, nil
		}, nil

	case *Convert:
		operand, err := compile(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil {
				return nil, err
			}
			out, err := ConvertValue(v, e.T)
			if err != nil {
				return nil, fail(e, err)
			}
			return out, nil
		}, nil

	case *Call:
		args, err := compileAll(e.Args)
		if err != nil {
			return nil, err
		}
		fn := e.Func
		return func(env *Env) (any, error) {
			vals := make([]any, len(args))
			for i, a := range args {
				v, err := a(env)
				if err != nil {
					return nil, err
				}
				if v == nil && !fn.AcceptsNull {
					return nil, fail(e, fmt.Errorf("%w: argument %d of %s", ErrNullReference, i+1, fn.Name))
				}
				vals[i] = v
			}
			out, err := fn.Impl(vals)
			if err != nil {
				return nil, fail(e, err)
			}
			return out, nil
		}, nil

	case *Guard:
		checks, err := compileAll(e.Checks)
		if err != nil {
			return nil, err
		}
		body, err := compile(e.Body)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			for _, c := range checks {
				v, err := c(env)
				if err != nil || v == nil {
					return nil, err
				}
			}
			return body(env)
		}, nil

	case *IsTrue:
		operand, err := compile(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil {
				return nil, err
			}
			return v == true, nil
		}, nil

	case *Quantifier:
		return compileQuantifier(e)

	case *Count:
		return compileCount(e)

	case *In:
		operand, err := compile(e.Operand)
		if err != nil {
			return nil, err
		}
		items, err := compileAll(e.Items)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil || v == nil {
				return nil, err
			}
			for _, it := range items {
				iv, err := it(env)
				if err != nil {
					return nil, err
				}
				if EqualValues(v, iv) {
					return true, nil
				}
			}
			return false, nil
		}, nil

	case *TypeCheck:
		operand, err := compile(e.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil {
				return nil, err
			}
			matches := false
			if v != nil && e.Resolve != nil {
				st, ok := e.Resolve(v)
				matches = ok && e.Target.IsAssignableFrom(st)
			}
			if !e.Cast {
				return matches, nil
			}
			if !matches {
				return nil, nil
			}
			return v, nil
		}, nil

	case *Aggregate:
		return compileAggregate(e)
	}
	return nil, fmt.Errorf("cannot compile expression node %T", e)
}

func compileAll(es []Expr) ([]evalFunc, error) {
	out := make([]evalFunc, len(es))
	for i, e := range es {
		f, err := compile(e)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func compileDynamicMember(e *DynamicMember) (evalFunc, error) {
	src, err := compile(e.Source)
	if err != nil {
		return nil, err
	}
	return func(env *Env) (any, error) {
		s, err := src(env)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fail(e, ErrNullReference)
		}
		container, ok := e.Container.Get(s)
		if !ok || edm.IsNil(container) {
			return nil, nil
		}
		if m, isMap := container.(map[string]any); isMap {
			v, found := m[e.Name]
			if !found {
				return nil, nil
			}
			return edm.NormalizeUntyped(v), nil
		}
		rv := reflect.ValueOf(container)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, fail(e, fmt.Errorf("%w: dynamic container %T is not a map", ErrInvalidValue, container))
		}
		v := rv.MapIndex(reflect.ValueOf(e.Name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return edm.NormalizeUntyped(v.Interface()), nil
	}, nil
}

func compileBinary(e *Binary) (evalFunc, error) {
	left, err := compile(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := compile(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case OpAnd, OpOr:
		// Three-valued logic: a definite false (and) or true (or) on either side
		// decides the result even when the other side is null.
		decisive := e.Op == OpOr
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			if l == decisive {
				return decisive, nil
			}
			r, err := right(env)
			if err != nil {
				return nil, err
			}
			if r == decisive {
				return decisive, nil
			}
			if l == nil || r == nil {
				return nil, nil
			}
			return !decisive, nil
		}, nil
	}

	return func(env *Env) (any, error) {
		l, err := left(env)
		if err != nil {
			return nil, err
		}
		r, err := right(env)
		if err != nil {
			return nil, err
		}
		if l == nil || r == nil {
			if e.LiftToNull || !e.Op.IsComparison() {
				return nil, nil
			}
			switch e.Op {
			case OpEq:
				return l == nil && r == nil, nil
			case OpNe:
				return l != nil || r != nil, nil
			}
			return false, nil
		}
		switch e.Op {
		case OpEq:
			return EqualValues(l, r), nil
		case OpNe:
			return !EqualValues(l, r), nil
		case OpLt, OpLe, OpGt, OpGe:
			c, err := CompareValues(l, r)
			if err != nil {
				return nil, fail(e, err)
			}
			switch e.Op {
			case OpLt:
				return c < 0, nil
			case OpLe:
				return c <= 0, nil
			case OpGt:
				return c > 0, nil
			}
			return c >= 0, nil
		}
		v, err := Arithmetic(e.Op, l, r)
		if err != nil {
			return nil, fail(e, err)
		}
		return v, nil
	}, nil
}

// items returns the elements of a normalized collection value.
func items(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func compileSource(e Expr, source Expr) (func(env *Env) ([]any, error), error) {
	src, err := compile(source)
	if err != nil {
		return nil, err
	}
	return func(env *Env) ([]any, error) {
		v, err := src(env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fail(e, ErrNullReference)
		}
		list, ok := items(v)
		if !ok {
			return nil, fail(e, fmt.Errorf("%w: %T is not a collection", ErrInvalidValue, v))
		}
		return list, nil
	}, nil
}

func compileQuantifier(e *Quantifier) (evalFunc, error) {
	src, err := compileSource(e, e.Source)
	if err != nil {
		return nil, err
	}
	if e.Body == nil {
		return func(env *Env) (any, error) {
			list, err := src(env)
			if err != nil {
				return nil, err
			}
			return len(list) > 0, nil
		}, nil
	}
	body, err := compile(e.Body)
	if err != nil {
		return nil, err
	}
	slot := e.Param.Slot
	wantAll := e.Kind == QuantifierAll
	return func(env *Env) (any, error) {
		list, err := src(env)
		if err != nil {
			return nil, err
		}
		saved := env.slots[slot]
		defer func() { env.slots[slot] = saved }()
		for _, item := range list {
			env.slots[slot] = item
			v, err := body(env)
			if err != nil {
				return nil, err
			}
			if (v == true) != wantAll {
				return !wantAll, nil
			}
		}
		return wantAll, nil
	}, nil
}

func compileCount(e *Count) (evalFunc, error) {
	src, err := compileSource(e, e.Source)
	if err != nil {
		return nil, err
	}
	var filter evalFunc
	if e.Filter != nil {
		if filter, err = compile(e.Filter); err != nil {
			return nil, err
		}
	}
	return func(env *Env) (any, error) {
		list, err := src(env)
		if err != nil {
			return nil, err
		}
		if filter == nil {
			return int64(len(list)), nil
		}
		slot := e.Param.Slot
		saved := env.slots[slot]
		defer func() { env.slots[slot] = saved }()
		n := int64(0)
		for _, item := range list {
			env.slots[slot] = item
			v, err := filter(env)
			if err != nil {
				return nil, err
			}
			if v == true {
				n++
			}
		}
		return n, nil
	}, nil
}

func compileAggregate(e *Aggregate) (evalFunc, error) {
	src, err := compileSource(e, e.Source)
	if err != nil {
		return nil, err
	}
	if e.Method == AggregateCount {
		return func(env *Env) (any, error) {
			list, err := src(env)
			if err != nil {
				return nil, err
			}
			return int64(len(list)), nil
		}, nil
	}
	selector, err := compile(e.Selector)
	if err != nil {
		return nil, err
	}
	return func(env *Env) (any, error) {
		list, err := src(env)
		if err != nil {
			return nil, err
		}
		slot := e.Param.Slot
		saved := env.slots[slot]
		defer func() { env.slots[slot] = saved }()
		values := make([]any, 0, len(list))
		for _, item := range list {
			env.slots[slot] = item
			v, err := selector(env)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		out, err := reduce(e, values)
		if err != nil {
			return nil, fail(e, err)
		}
		return out, nil
	}, nil
}

func reduce(e *Aggregate, values []any) (any, error) {
	if e.Method == AggregateCountDistinct {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			seen[record.Key(v)] = true
		}
		return int64(len(seen)), nil
	}

	nonNull := values[:0:0]
	for _, v := range values {
		if v != nil {
			nonNull = append(nonNull, v)
		}
	}

	switch e.Method {
	case AggregateSum:
		return sum(e.T.PrimitiveKind(), nonNull)
	case AggregateAverage:
		if len(nonNull) == 0 {
			return nil, nil
		}
		total, err := sum(e.T.PrimitiveKind(), nonNull)
		if err != nil {
			return nil, err
		}
		switch t := total.(type) {
		case decimal.Decimal:
			return t.Div(decimal.NewFromInt(int64(len(nonNull)))), nil
		case float64:
			return t / float64(len(nonNull)), nil
		}
		return nil, fmt.Errorf("%w: cannot average %T", ErrInvalidValue, total)
	case AggregateMin, AggregateMax:
		var best any
		for _, v := range nonNull {
			if best == nil {
				best = v
				continue
			}
			c, err := CompareValues(v, best)
			if err != nil {
				return nil, err
			}
			if (e.Method == AggregateMin && c < 0) || (e.Method == AggregateMax && c > 0) {
				best = v
			}
		}
		return best, nil
	case AggregateCustom:
		return e.Custom.Impl(nonNull)
	}
	return nil, fmt.Errorf("unsupported aggregate method %s", e.Method)
}

// sum adds values in the representation of kind: int64, float64 or decimal.
func sum(kind edm.PrimitiveKind, values []any) (any, error) {
	switch {
	case kind == edm.Decimal:
		total := decimal.Zero
		for _, v := range values {
			d, err := edm.NormalizePrimitive(v, edm.Decimal)
			if err != nil {
				return nil, err
			}
			total = total.Add(d.(decimal.Decimal))
		}
		return total, nil
	case kind.IsFloating():
		total := 0.0
		for _, v := range values {
			f, err := edm.NormalizePrimitive(v, edm.Double)
			if err != nil {
				return nil, err
			}
			total += f.(float64)
		}
		return total, nil
	case kind.IsIntegral():
		total := int64(0)
		for _, v := range values {
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("%w: cannot sum %T as %s", ErrInvalidValue, v, kind)
			}
			total += n
		}
		return total, nil
	}
	return nil, fmt.Errorf("%w: cannot sum values as %s", ErrInvalidValue, kind)
}
