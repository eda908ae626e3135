package binder

import (
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/functions"
	"github.com/roach88/querybind/internal/semantic"
)

var binaryOps = map[semantic.BinaryOperatorKind]expr.Op{
	semantic.Equal:              expr.OpEq,
	semantic.NotEqual:           expr.OpNe,
	semantic.LessThan:           expr.OpLt,
	semantic.LessThanOrEqual:    expr.OpLe,
	semantic.GreaterThan:        expr.OpGt,
	semantic.GreaterThanOrEqual: expr.OpGe,
	semantic.And:                expr.OpAnd,
	semantic.Or:                 expr.OpOr,
	semantic.Add:                expr.OpAdd,
	semantic.Subtract:           expr.OpSub,
	semantic.Multiply:           expr.OpMul,
	semantic.Divide:             expr.OpDiv,
	semantic.Modulo:             expr.OpMod,
	semantic.Has:                expr.OpHas,
}

func (b *binder) bindBinary(n *semantic.BinaryOperatorNode) (expr.Expr, error) {
	left, err := b.bind(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.bind(n.Right)
	if err != nil {
		return nil, err
	}
	construct := semantic.Format(n)

	switch {
	case n.Operator.IsLogical():
		if !isBooleanLike(left.Type()) || !isBooleanLike(right.Type()) {
			return nil, NewTypeMismatchError(construct, "%s requires boolean operands, got %s and %s", n.Operator, left.Type(), right.Type())
		}
		return &expr.Binary{
			Op:         binaryOps[n.Operator],
			Left:       left,
			Right:      right,
			T:          boolType(mayBeNull(left) || mayBeNull(right)),
			LiftToNull: true,
		}, nil
	case n.Operator == semantic.Has:
		return b.bindHas(left, right, construct)
	case n.Operator.IsComparison():
		return b.bindComparison(n.Operator, left, right, construct)
	case n.Operator.IsArithmetic():
		return b.bindArithmetic(n.Operator, left, right, construct)
	}
	return nil, NewUnsupportedError(b.name, "binary operator "+n.Operator.String())
}

// binary builds a lifted operator node. With null propagation the operand
// guards are hoisted into one guard around the result.
func (b *binder) binary(op expr.Op, l, r expr.Expr, t edm.TypeRef) expr.Expr {
	var checks []expr.Expr
	if b.propagate {
		var bare []expr.Expr
		checks, bare = expr.HoistArgs([]expr.Expr{l, r})
		l, r = bare[0], bare[1]
	}
	t.Nullable = mayBeNull(l) || mayBeNull(r)
	return expr.NewGuard(checks, &expr.Binary{Op: op, Left: l, Right: r, T: t, LiftToNull: true})
}

func (b *binder) bindComparison(op semantic.BinaryOperatorKind, left, right expr.Expr, construct string) (expr.Expr, error) {
	nullTest := isNullLiteral(left) || isNullLiteral(right)
	l, r, err := b.coerce(left, right, construct)
	if err != nil {
		return nil, err
	}
	eop := binaryOps[op]
	if nullTest {
		return &expr.Binary{Op: eop, Left: l, Right: r, T: boolType(false)}, nil
	}

	ordering := op != semantic.Equal && op != semantic.NotEqual
	switch k := l.Type().PrimitiveKind(); {
	case k == edm.String && ordering:
		cmp := b.call(functions.StringCompare, l, r)
		zero := &expr.Constant{Value: int64(0), T: edm.PrimitiveRef(edm.Int32, false)}
		return b.binary(eop, cmp, zero, boolType(true)), nil
	case k == edm.Binary && !ordering:
		eq := b.call(functions.BinaryEqual, l, r)
		if op == semantic.Equal {
			return eq, nil
		}
		return within(eq, func(body expr.Expr) expr.Expr {
			return &expr.Unary{Op: expr.OpNot, Operand: body, T: boolType(true)}
		}), nil
	case ordering && (k.IsGeography() || l.Type().IsStructured()):
		return nil, NewTypeMismatchError(construct, "%s is not ordered", l.Type().AsNonNullable())
	}
	return b.binary(eop, l, r, boolType(true)), nil
}

// coerce reconciles the operand types of a comparison so both sides share a
// runtime representation.
func (b *binder) coerce(left, right expr.Expr, construct string) (expr.Expr, expr.Expr, error) {
	lt, rt := left.Type(), right.Type()
	switch {
	case isNullLiteral(left) && isNullLiteral(right):
		return left, right, nil
	case isNullLiteral(left):
		return expr.NullOf(rt), right, nil
	case isNullLiteral(right):
		return left, expr.NullOf(lt), nil
	case lt.Kind() == edm.KindUntyped || rt.Kind() == edm.KindUntyped:
		return b.coerceUntyped(left, right, construct)
	case lt.Enum() != nil || rt.Enum() != nil:
		return b.coerceEnum(left, right, construct)
	}

	lk, rk := lt.PrimitiveKind(), rt.PrimitiveKind()
	switch {
	case lk.IsNumeric() && rk.IsNumeric():
		p, _ := edm.PromoteNumeric(lk, rk)
		return b.promotePair(left, right, p, construct)
	case lk == edm.Date && rk == edm.DateTimeOffset:
		return b.reconcileTemporal(left, b.call(functions.DateIn(b.settings.TimeZone), right), construct)
	case lk == edm.DateTimeOffset && rk == edm.Date:
		return b.reconcileTemporal(b.call(functions.DateIn(b.settings.TimeZone), left), right, construct)
	case lk == edm.TimeOfDay && rk == edm.DateTimeOffset:
		return b.reconcileTemporal(left, b.call(functions.TimeIn(b.settings.TimeZone), right), construct)
	case lk == edm.DateTimeOffset && rk == edm.TimeOfDay:
		return b.reconcileTemporal(b.call(functions.TimeIn(b.settings.TimeZone), left), right, construct)
	}

	if lt.Kind() == edm.KindCollection || rt.Kind() == edm.KindCollection {
		return nil, nil, NewTypeMismatchError(construct, "cannot compare collections")
	}
	if ls, rs := lt.Structured(), rt.Structured(); ls != nil && rs != nil {
		if ls.IsAssignableFrom(rs) || rs.IsAssignableFrom(ls) {
			return left, right, nil
		}
	}
	if !edm.Equivalent(lt, rt) {
		return nil, nil, NewTypeMismatchError(construct, "cannot compare %s with %s", lt.AsNonNullable(), rt.AsNonNullable())
	}
	return left, right, nil
}

// promotePair converts both operands to the numeric kind p where their
// representation differs from it.
func (b *binder) promotePair(left, right expr.Expr, p edm.PrimitiveKind, construct string) (expr.Expr, expr.Expr, error) {
	l, err := b.promote(left, p, construct)
	if err != nil {
		return nil, nil, err
	}
	r, err := b.promote(right, p, construct)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func (b *binder) promote(e expr.Expr, p edm.PrimitiveKind, construct string) (expr.Expr, error) {
	if representation(e.Type().PrimitiveKind()) == representation(p) {
		return e, nil
	}
	return b.convertTo(e, edm.PrimitiveRef(p, true), construct)
}

// reconcileTemporal compares a Date or TimeOfDay with the matching part of a
// DateTimeOffset. Both sides are compared as Int64: a yyyymmdd number for
// dates and ticks for times of day.
func (b *binder) reconcileTemporal(left, right expr.Expr, construct string) (expr.Expr, expr.Expr, error) {
	return b.promotePair(left, right, edm.Int64, construct)
}

// coerceUntyped converts a runtime-typed operand to the type of the other
// side. Numeric comparisons go through Decimal, or Double when the typed
// side is floating, so integral and fractional dynamic values both compare.
func (b *binder) coerceUntyped(left, right expr.Expr, construct string) (expr.Expr, expr.Expr, error) {
	lu := left.Type().Kind() == edm.KindUntyped
	ru := right.Type().Kind() == edm.KindUntyped
	if lu && ru {
		return left, right, nil
	}
	untyped, typed := left, right
	if ru {
		untyped, typed = right, left
	}
	tt := typed.Type()

	var u, t expr.Expr
	var err error
	switch k := tt.PrimitiveKind(); {
	case k.IsNumeric():
		target := edm.Decimal
		if k.IsFloating() {
			target = edm.Double
		}
		if t, err = b.promote(typed, target, construct); err != nil {
			return nil, nil, err
		}
		u, err = b.convertTo(untyped, edm.PrimitiveRef(target, true), construct)
	case tt.Enum() != nil:
		if t, err = b.convertTo(typed, edm.PrimitiveRef(edm.Int64, true), construct); err != nil {
			return nil, nil, err
		}
		u, err = b.convertTo(untyped, edm.PrimitiveRef(edm.Int64, true), construct)
	case k != 0:
		t = typed
		u, err = b.convertTo(untyped, tt.AsNullable(), construct)
	default:
		return nil, nil, NewTypeMismatchError(construct, "cannot compare a dynamic value with %s", tt.AsNonNullable())
	}
	if err != nil {
		return nil, nil, err
	}
	if ru {
		return t, u, nil
	}
	return u, t, nil
}

// coerceEnum compares enums by their underlying value. A string literal on
// the other side is parsed as a member name, ignoring case.
func (b *binder) coerceEnum(left, right expr.Expr, construct string) (expr.Expr, expr.Expr, error) {
	enum := left.Type().Enum()
	if enum == nil {
		enum = right.Type().Enum()
	}
	l, err := b.enumOperand(left, enum, construct)
	if err != nil {
		return nil, nil, err
	}
	r, err := b.enumOperand(right, enum, construct)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func (b *binder) enumOperand(e expr.Expr, enum *edm.EnumType, construct string) (expr.Expr, error) {
	t := e.Type()
	int64Ref := edm.PrimitiveRef(edm.Int64, true)
	switch {
	case t.Enum() != nil:
		if t.Enum() != enum && t.Enum().FullName() != enum.FullName() {
			return nil, NewTypeMismatchError(construct, "cannot compare %s with %s", t.AsNonNullable(), enum.FullName())
		}
		return b.convertTo(e, int64Ref, construct)
	case t.Is(edm.String):
		if _, ok := e.(*expr.Constant); !ok {
			return nil, NewTypeMismatchError(construct, "cannot compare %s with a string expression", enum.FullName())
		}
		parsed, err := b.convertTo(e, edm.NewTypeRef(enum, true), construct)
		if err != nil {
			return nil, err
		}
		return b.convertTo(parsed, int64Ref, construct)
	case t.PrimitiveKind().IsIntegral():
		return b.convertTo(e, int64Ref, construct)
	}
	return nil, NewTypeMismatchError(construct, "cannot compare %s with %s", enum.FullName(), t.AsNonNullable())
}

// bindHas tests flags. The right side is an enum literal or a member name of
// the left operand's enum.
func (b *binder) bindHas(left, right expr.Expr, construct string) (expr.Expr, error) {
	enum := left.Type().Enum()
	if enum == nil {
		return nil, NewTypeMismatchError(construct, "has requires an enum operand, got %s", left.Type())
	}
	r := right
	switch {
	case isNullLiteral(right):
		r = expr.NullOf(left.Type())
	case right.Type().Enum() != nil:
		if right.Type().Enum().FullName() != enum.FullName() {
			return nil, NewTypeMismatchError(construct, "has over %s and %s", enum.FullName(), right.Type().AsNonNullable())
		}
	case right.Type().Is(edm.String) || right.Type().PrimitiveKind().IsIntegral():
		var err error
		if r, err = b.convertTo(right, edm.NewTypeRef(enum, true), construct); err != nil {
			return nil, err
		}
	default:
		return nil, NewTypeMismatchError(construct, "has over %s and %s", enum.FullName(), right.Type().AsNonNullable())
	}
	return b.binary(expr.OpHas, left, r, boolType(true)), nil
}

func (b *binder) bindArithmetic(op semantic.BinaryOperatorKind, left, right expr.Expr, construct string) (expr.Expr, error) {
	eop := binaryOps[op]
	lt, rt := left.Type(), right.Type()
	switch {
	case isNullLiteral(left) && isNullLiteral(right):
		return nil, NewTypeMismatchError(construct, "%s over two null literals", op)
	case isNullLiteral(left):
		return expr.NullOf(rt), nil
	case isNullLiteral(right):
		return expr.NullOf(lt), nil
	case lt.Kind() == edm.KindUntyped || rt.Kind() == edm.KindUntyped:
		l, r, err := b.coerceUntyped(left, right, construct)
		if err != nil {
			return nil, err
		}
		if lt.Kind() == edm.KindUntyped && rt.Kind() == edm.KindUntyped {
			return b.binary(eop, l, r, lt), nil
		}
		t := l.Type()
		if t.Kind() == edm.KindUntyped {
			t = r.Type()
		}
		return b.binary(eop, l, r, t), nil
	}

	lk, rk := lt.PrimitiveKind(), rt.PrimitiveKind()
	if lk.IsNumeric() && rk.IsNumeric() {
		p, _ := edm.PromoteNumeric(lk, rk)
		l, r, err := b.promotePair(left, right, p, construct)
		if err != nil {
			return nil, err
		}
		return b.binary(eop, l, r, edm.PrimitiveRef(p, true)), nil
	}
	if k, ok := temporalResult(op, lk, rk); ok {
		return b.binary(eop, left, right, edm.PrimitiveRef(k, true)), nil
	}
	return nil, NewTypeMismatchError(construct, "%s is not defined for %s and %s", op, lt.AsNonNullable(), rt.AsNonNullable())
}

// temporalResult returns the result kind of date and time arithmetic.
func temporalResult(op semantic.BinaryOperatorKind, l, r edm.PrimitiveKind) (edm.PrimitiveKind, bool) {
	if op != semantic.Add && op != semantic.Subtract {
		return 0, false
	}
	switch {
	case r == edm.Duration && (l == edm.DateTimeOffset || l == edm.Date || l == edm.Duration):
		return l, true
	case op == semantic.Subtract && l == r && (l == edm.DateTimeOffset || l == edm.Date):
		return edm.Duration, true
	}
	return 0, false
}
