package binder

import (
	"fmt"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/semantic"
)

// binder holds the state of one compilation.
type binder struct {
	name      string
	model     *edm.Model
	settings  Settings
	propagate bool

	// scopes is the lambda parameter stack. scopes[0] is the clause range
	// variable.
	scopes   []scope
	slotBase int

	// index is set when the source rows are grouped wrappers produced by a
	// previous $apply stage.
	index *FlattenedIndex
}

type scope struct {
	variable *semantic.RangeVariable
	param    *expr.Parameter
}

func newBinder(name string, model *edm.Model, settings Settings) *binder {
	s := settings.withDefaults()
	return &binder{name: name, model: model, settings: s, propagate: s.PropagatesNulls()}
}

// push opens a scope for v and returns its parameter.
func (b *binder) push(v *semantic.RangeVariable) *expr.Parameter {
	p := &expr.Parameter{Name: v.Name, Slot: b.slotBase + len(b.scopes), T: v.Type}
	b.scopes = append(b.scopes, scope{variable: v, param: p})
	return p
}

func (b *binder) pop() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

// lookup resolves a range variable by identity, then by name, innermost
// scope first.
func (b *binder) lookup(v *semantic.RangeVariable) (*expr.Parameter, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if b.scopes[i].variable == v {
			return b.scopes[i].param, true
		}
	}
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if b.scopes[i].variable.Name == v.Name {
			return b.scopes[i].param, true
		}
	}
	return nil, false
}

func boolType(nullable bool) edm.TypeRef {
	return edm.PrimitiveRef(edm.Boolean, nullable)
}

func isNullLiteral(e expr.Expr) bool {
	c, ok := e.(*expr.Constant)
	return ok && c.Value == nil && c.T.IsNullLiteral()
}

// mayBeNull reports whether e can evaluate to null. Collections count as
// nullable because a nil slice reads as absent.
func mayBeNull(e expr.Expr) bool {
	t := e.Type()
	return t.IsNullLiteral() || t.Nullable || t.Kind() == edm.KindCollection
}

// bind translates a node.
func (b *binder) bind(n semantic.Node) (expr.Expr, error) {
	switch n := n.(type) {
	case *semantic.ConstantNode:
		return b.bindConstant(n)
	case *semantic.RangeVariableReferenceNode:
		p, ok := b.lookup(n.Variable)
		if !ok {
			return nil, NewUnresolvedPropertyError(n.Variable.Name, "range variable is not in scope")
		}
		return p, nil
	case *semantic.SingleValuePropertyAccessNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.SingleComplexNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.SingleNavigationNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.CollectionPropertyAccessNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.CollectionComplexNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.CollectionNavigationNode:
		return b.bindProperty(n, n.Source, n.Property)
	case *semantic.SingleValueOpenPropertyAccessNode:
		return b.bindOpenProperty(n)
	case *semantic.SingleResourceCastNode:
		return b.bindResourceCast(n)
	case *semantic.BinaryOperatorNode:
		return b.bindBinary(n)
	case *semantic.UnaryOperatorNode:
		return b.bindUnary(n)
	case *semantic.ConvertNode:
		src, err := b.bind(n.Source)
		if err != nil {
			return nil, err
		}
		return b.convert(src, n.Type, semantic.Format(n))
	case *semantic.SingleValueFunctionCallNode:
		return b.bindFunction(n)
	case *semantic.AnyNode:
		return b.bindLambda(expr.QuantifierAny, n.Source, n.Variable, n.Body)
	case *semantic.AllNode:
		return b.bindLambda(expr.QuantifierAll, n.Source, n.Variable, n.Body)
	case *semantic.InNode:
		return b.bindIn(n)
	case *semantic.CountNode:
		return b.bindCount(n)
	}
	construct := fmt.Sprintf("%T", n)
	if n != nil {
		construct = n.Kind().String()
	}
	return nil, NewUnsupportedError(b.name, construct)
}

func (b *binder) bindConstant(n *semantic.ConstantNode) (expr.Expr, error) {
	if n.Type.IsNullLiteral() {
		return &expr.Constant{}, nil
	}
	if n.Value == nil {
		return expr.NullOf(n.Type), nil
	}
	v, err := edm.Normalize(n.Value, n.Type)
	if err != nil {
		return nil, NewTypeMismatchError(n.LiteralText, "literal is not a valid %s: %v", n.Type, err)
	}
	return &expr.Constant{Value: v, T: n.Type, Parameterized: b.settings.ParameterizeConstants}, nil
}

// bindProperty reads a declared property, through the flattened index when
// the rows are grouped wrappers.
func (b *binder) bindProperty(n semantic.Node, source semantic.SingleValueNode, p *edm.Property) (expr.Expr, error) {
	if b.index != nil {
		if e, ok, err := b.bindFlattened(n); ok || err != nil {
			return e, err
		}
	}
	src, err := b.bind(source)
	if err != nil {
		return nil, err
	}
	if st := src.Type().Structured(); st != nil {
		if _, found := st.Property(p.Name); !found {
			return nil, NewUnresolvedPropertyError(semantic.Format(n), fmt.Sprintf("%s has no property %s", st.FullName(), p.Name))
		}
	}
	if p.Accessor == nil {
		return nil, NewUnresolvedPropertyError(semantic.Format(n), "property has no accessor")
	}
	t := p.Type
	if p.Navigation && !p.IsCollection() {
		t = t.AsNullable()
	}
	return b.member(src, func(s expr.Expr) expr.Expr {
		return &expr.Member{Source: s, Property: p, T: t}
	}), nil
}

// member applies read to src. With null propagation a source that may be
// null joins the guard of the result.
func (b *binder) member(src expr.Expr, read func(expr.Expr) expr.Expr) expr.Expr {
	if !b.propagate {
		return read(src)
	}
	checks, body := expr.Unguard(src)
	if mayBeNull(body) {
		checks = append(checks, body)
	}
	return expr.NewGuard(checks, read(body))
}

// within applies f to the body of e, keeping e's guard outermost.
func within(e expr.Expr, f func(expr.Expr) expr.Expr) expr.Expr {
	checks, body := expr.Unguard(e)
	return expr.NewGuard(checks, f(body))
}

func (b *binder) bindOpenProperty(n *semantic.SingleValueOpenPropertyAccessNode) (expr.Expr, error) {
	if b.index != nil {
		if e, ok, err := b.bindFlattened(n); ok || err != nil {
			return e, err
		}
	}
	src, err := b.bind(n.Source)
	if err != nil {
		return nil, err
	}
	st := src.Type().Structured()
	if st == nil || !st.IsOpen() {
		return nil, NewUnresolvedPropertyError(semantic.Format(n), "dynamic property on a type that is not open")
	}
	container := st.DynamicAccessor()
	if container == nil {
		return nil, NewUnresolvedPropertyError(semantic.Format(n), fmt.Sprintf("open type %s has no dynamic property container", st.FullName()))
	}
	return b.member(src, func(s expr.Expr) expr.Expr {
		return &expr.DynamicMember{Source: s, Container: container, Name: n.Name}
	}), nil
}

func (b *binder) bindResourceCast(n *semantic.SingleResourceCastNode) (expr.Expr, error) {
	src, err := b.bind(n.Source)
	if err != nil {
		return nil, err
	}
	return b.castStructured(src, n.Type, semantic.Format(n))
}

func (b *binder) castStructured(src expr.Expr, target *edm.StructuredType, construct string) (expr.Expr, error) {
	st := src.Type().Structured()
	if st == nil {
		return nil, NewTypeMismatchError(construct, "cannot cast %s to %s", src.Type(), target.FullName())
	}
	if target.IsAssignableFrom(st) {
		return src, nil
	}
	if !st.IsAssignableFrom(target) {
		return nil, NewTypeMismatchError(construct, "%s does not derive from %s", target.FullName(), st.FullName())
	}
	return b.member(src, func(s expr.Expr) expr.Expr {
		return &expr.TypeCheck{Operand: s, Target: target, Cast: true, Resolve: b.instanceType}
	}), nil
}

func (b *binder) instanceType(instance any) (*edm.StructuredType, bool) {
	if b.model == nil {
		return nil, false
	}
	return b.model.TypeOfInstance(instance)
}

// bindFlattened resolves a property path through the flattened index. ok is
// false when the path is not rooted at the clause range variable, so the
// caller binds it normally.
func (b *binder) bindFlattened(n semantic.Node) (expr.Expr, bool, error) {
	path, root, ok := flattenPath(n)
	if !ok || len(b.scopes) == 0 {
		return nil, false, nil
	}
	param, found := b.lookup(root)
	if !found || param != b.scopes[0].param {
		return nil, false, nil
	}
	t, found := b.index.Lookup(path)
	if !found {
		return nil, true, NewUnresolvedPropertyError(path, "property is not available after aggregation")
	}
	return &expr.WrapperField{Source: param, Path: path, T: t}, true, nil
}

// flattenPath renders the property path of n relative to its range variable.
func flattenPath(n semantic.Node) (string, *semantic.RangeVariable, bool) {
	var source semantic.Node
	var name string
	switch n := n.(type) {
	case *semantic.RangeVariableReferenceNode:
		return "", n.Variable, true
	case *semantic.SingleValuePropertyAccessNode:
		source, name = n.Source, n.Property.Name
	case *semantic.SingleComplexNode:
		source, name = n.Source, n.Property.Name
	case *semantic.SingleNavigationNode:
		source, name = n.Source, n.Property.Name
	case *semantic.CollectionPropertyAccessNode:
		source, name = n.Source, n.Property.Name
	case *semantic.CollectionComplexNode:
		source, name = n.Source, n.Property.Name
	case *semantic.CollectionNavigationNode:
		source, name = n.Source, n.Property.Name
	case *semantic.SingleValueOpenPropertyAccessNode:
		source, name = n.Source, n.Name
	default:
		return "", nil, false
	}
	prefix, root, ok := flattenPath(source)
	if !ok {
		return "", nil, false
	}
	if prefix == "" {
		return name, root, true
	}
	return prefix + "/" + name, root, true
}

// call invokes fn. With null propagation the guards of the arguments are
// hoisted into one guard around the call, and arguments that may be null
// are checked unless fn accepts null.
func (b *binder) call(fn *expr.Function, args ...expr.Expr) expr.Expr {
	if !b.propagate {
		return &expr.Call{Func: fn, Args: args, T: fn.Return}
	}
	checks, bare := expr.HoistArgs(args)
	if !fn.AcceptsNull {
		for _, a := range bare {
			if mayBeNull(a) {
				checks = append(checks, a)
			}
		}
	}
	return expr.NewGuard(checks, &expr.Call{Func: fn, Args: bare, T: fn.Return})
}

func (b *binder) bindUnary(n *semantic.UnaryOperatorNode) (expr.Expr, error) {
	operand, err := b.bind(n.Operand)
	if err != nil {
		return nil, err
	}
	t := operand.Type()
	switch n.Operator {
	case semantic.Not:
		if !isBooleanLike(t) {
			return nil, NewTypeMismatchError(semantic.Format(n), "not requires a boolean operand, got %s", t)
		}
		return &expr.Unary{Op: expr.OpNot, Operand: operand, T: boolType(mayBeNull(operand))}, nil
	case semantic.Negate:
		k := t.PrimitiveKind()
		if !k.IsNumeric() && k != edm.Duration && t.Kind() != edm.KindUntyped {
			return nil, NewTypeMismatchError(semantic.Format(n), "cannot negate %s", t)
		}
		if c, ok := operand.(*expr.Constant); ok && c.Value != nil {
			v, err := expr.Negate(c.Value)
			if err == nil {
				return &expr.Constant{Value: v, T: c.T, Parameterized: c.Parameterized}, nil
			}
		}
		return &expr.Unary{Op: expr.OpNegate, Operand: operand, T: t}, nil
	}
	return nil, NewUnsupportedError(b.name, "unary operator "+n.Operator.String())
}

func isBooleanLike(t edm.TypeRef) bool {
	return t.Is(edm.Boolean) || t.Kind() == edm.KindUntyped || t.IsNullLiteral()
}

// convert changes the type of e to target.
func (b *binder) convert(e expr.Expr, target edm.TypeRef, construct string) (expr.Expr, error) {
	src := e.Type()
	switch {
	case target.IsNullLiteral() || target.Kind() == edm.KindUntyped:
		return e, nil
	case isNullLiteral(e):
		return expr.NullOf(target), nil
	case edm.Equivalent(src, target):
		return e, nil
	}

	switch target.Kind() {
	case edm.KindEntity, edm.KindComplex:
		return b.castStructured(e, target.Structured(), construct)
	case edm.KindEnum:
		k := src.PrimitiveKind()
		if k != edm.String && !k.IsIntegral() && src.Kind() != edm.KindUntyped {
			return nil, NewTypeMismatchError(construct, "cannot convert %s to enum %s", src, target)
		}
		return b.convertTo(e, target.AsNullable(), construct)
	case edm.KindPrimitive:
		if src.IsStructured() || src.Kind() == edm.KindCollection {
			return nil, NewTypeMismatchError(construct, "cannot convert %s to %s", src, target)
		}
		return b.convertTo(e, target.AsNullable(), construct)
	}
	return nil, NewTypeMismatchError(construct, "cannot convert %s to %s", src, target)
}

// convertTo converts e to t. Constants are converted at bind time; other
// expressions get a Convert inside their guard.
func (b *binder) convertTo(e expr.Expr, t edm.TypeRef, construct string) (expr.Expr, error) {
	if c, ok := e.(*expr.Constant); ok {
		if c.Value == nil {
			return expr.NullOf(t), nil
		}
		v, err := expr.ConvertValue(c.Value, t)
		if err != nil {
			return nil, NewTypeMismatchError(construct, "literal %s is not a valid %s", expr.FormatValue(c.Value), t.AsNonNullable())
		}
		return &expr.Constant{Value: v, T: t.AsNonNullable(), Parameterized: c.Parameterized}, nil
	}
	return within(e, func(body expr.Expr) expr.Expr {
		rt := t
		rt.Nullable = body.Type().Nullable || body.Type().IsNullLiteral()
		return &expr.Convert{Operand: body, T: rt}
	}), nil
}

func (b *binder) bindLambda(kind expr.QuantifierKind, source semantic.CollectionNode, v *semantic.RangeVariable, body semantic.SingleValueNode) (expr.Expr, error) {
	src, err := b.bind(source)
	if err != nil {
		return nil, err
	}
	if src.Type().Kind() != edm.KindCollection {
		return nil, NewTypeMismatchError(semantic.Format(source), "%s over a value that is not a collection", kind)
	}
	checks, bare := expr.Unguard(src)
	q := &expr.Quantifier{Kind: kind, Source: bare}
	if body != nil {
		q.Param = b.push(v)
		defer b.pop()
		q.Body, err = b.bind(body)
		if err != nil {
			return nil, err
		}
		if !isBooleanLike(q.Body.Type()) {
			return nil, NewTypeMismatchError(semantic.Format(body), "%s body must be boolean, got %s", kind, q.Body.Type())
		}
	}
	return b.guardSource(checks, bare, q), nil
}

// guardSource guards e, which iterates src, so that an absent source yields
// null instead of failing.
func (b *binder) guardSource(checks []expr.Expr, src, e expr.Expr) expr.Expr {
	if !b.propagate {
		return e
	}
	if mayBeNull(src) {
		checks = append(checks, src)
	}
	return expr.NewGuard(checks, e)
}

func (b *binder) bindCount(n *semantic.CountNode) (expr.Expr, error) {
	src, err := b.bind(n.Source)
	if err != nil {
		return nil, err
	}
	if src.Type().Kind() != edm.KindCollection {
		return nil, NewTypeMismatchError(semantic.Format(n), "$count over a value that is not a collection")
	}
	checks, bare := expr.Unguard(src)
	c := &expr.Count{Source: bare}
	if n.Filter != nil {
		v := n.Filter.RangeVariable
		if v == nil {
			v = &semantic.RangeVariable{Name: "$it", Type: src.Type().Collection().Element}
		}
		c.Param = b.push(v)
		defer b.pop()
		body, err := b.bind(n.Filter.Expression)
		if err != nil {
			return nil, err
		}
		c.Filter = finalize(body)
	}
	return b.guardSource(checks, bare, c), nil
}

func (b *binder) bindIn(n *semantic.InNode) (expr.Expr, error) {
	left, err := b.bind(n.Left)
	if err != nil {
		return nil, err
	}
	construct := semantic.Format(n)

	if list, ok := n.Right.(*semantic.CollectionConstantNode); ok {
		items := make([]expr.Expr, 0, len(list.Items))
		for _, it := range list.Items {
			c, err := b.bindConstant(it)
			if err != nil {
				return nil, err
			}
			items = append(items, c)
		}
		left, items, err = b.unifyItems(left, items, construct)
		if err != nil {
			return nil, err
		}
		return &expr.In{Operand: left, Items: items}, nil
	}

	src, err := b.bind(n.Right)
	if err != nil {
		return nil, err
	}
	coll := src.Type().Collection()
	if coll == nil {
		return nil, NewTypeMismatchError(construct, "right operand of in is not a collection")
	}
	checks, bare := expr.Unguard(src)
	q := &expr.Quantifier{Kind: expr.QuantifierAny, Source: bare}
	q.Param = b.push(&semantic.RangeVariable{Name: "$in", Type: coll.Element})
	defer b.pop()
	l, r, err := b.coerce(left, q.Param, construct)
	if err != nil {
		return nil, err
	}
	q.Body = &expr.Binary{Op: expr.OpEq, Left: r, Right: l, T: boolType(mayBeNull(l) || mayBeNull(r)), LiftToNull: true}
	return b.guardSource(checks, bare, q), nil
}

// unifyItems converts in-list literals to the operand's type, widening the
// operand when a literal needs a wider numeric kind.
func (b *binder) unifyItems(left expr.Expr, items []expr.Expr, construct string) (expr.Expr, []expr.Expr, error) {
	lt := left.Type()
	if lt.Kind() == edm.KindUntyped {
		return left, items, nil
	}
	target := lt.AsNonNullable()
	if e := lt.Enum(); e != nil {
		left = within(left, func(body expr.Expr) expr.Expr {
			return &expr.Convert{Operand: body, T: edm.PrimitiveRef(edm.Int64, body.Type().Nullable)}
		})
		target = lt.AsNonNullable()
	} else if k := lt.PrimitiveKind(); k.IsNumeric() {
		widest := k
		for _, it := range items {
			if ik := it.Type().PrimitiveKind(); ik.IsNumeric() {
				widest, _ = edm.PromoteNumeric(widest, ik)
			}
		}
		if representation(widest) != representation(k) {
			var err error
			if left, err = b.convertTo(left, edm.PrimitiveRef(widest, lt.Nullable), construct); err != nil {
				return nil, nil, err
			}
		}
		target = edm.PrimitiveRef(widest, false)
	}
	out := make([]expr.Expr, len(items))
	for i, it := range items {
		if isNullLiteral(it) || edm.Equivalent(it.Type(), target) {
			out[i] = it
			continue
		}
		c, err := b.convertTo(it, target, construct)
		if err != nil {
			return nil, nil, err
		}
		out[i] = c
	}
	return left, out, nil
}

// representation groups primitive kinds by their runtime representation.
func representation(k edm.PrimitiveKind) edm.PrimitiveKind {
	switch {
	case k.IsIntegral():
		return edm.Int64
	case k.IsFloating():
		return edm.Double
	}
	return k
}

func (b *binder) bindFunction(n *semantic.SingleValueFunctionCallNode) (expr.Expr, error) {
	switch n.Name {
	case "cast":
		return b.bindCastFunction(n, true)
	case "isof":
		return b.bindCastFunction(n, false)
	}

	args := make([]expr.Expr, len(n.Parameters))
	kinds := make([]edm.PrimitiveKind, len(n.Parameters))
	names := make([]string, len(n.Parameters))
	for i, p := range n.Parameters {
		a, err := b.bind(p)
		if err != nil {
			return nil, err
		}
		args[i] = a
		kinds[i] = a.Type().PrimitiveKind()
		names[i] = a.Type().AsNonNullable().String()
	}

	fn, conv, ok := b.settings.Functions.Resolve(n.Name, kinds)
	if !ok {
		return nil, NewFunctionNotSupportedError(n.Name, names...)
	}
	construct := semantic.Format(n)
	for i, a := range args {
		want := conv[i]
		if want == 0 && kinds[i] == 0 && fn.Params[i] != 0 && !isNullLiteral(a) {
			want = fn.Params[i]
		}
		if want == 0 || (kinds[i] != 0 && representation(kinds[i]) == representation(want)) {
			continue
		}
		c, err := b.convertTo(a, edm.PrimitiveRef(want, true), construct)
		if err != nil {
			return nil, err
		}
		args[i] = c
	}
	return b.call(fn, args...), nil
}

// bindCastFunction binds cast(x, T) and isof(x, T). The one-argument forms
// apply to the innermost range variable.
func (b *binder) bindCastFunction(n *semantic.SingleValueFunctionCallNode, cast bool) (expr.Expr, error) {
	construct := semantic.Format(n)
	if len(n.Parameters) == 0 || len(n.Parameters) > 2 {
		return nil, NewFunctionNotSupportedError(n.Name, fmt.Sprintf("%d arguments", len(n.Parameters)))
	}
	typeArg, ok := n.Parameters[len(n.Parameters)-1].(*semantic.ConstantNode)
	if !ok {
		return nil, NewTypeMismatchError(construct, "last argument of %s must be a type name", n.Name)
	}
	name, _ := typeArg.Value.(string)
	target, found := b.resolveTypeName(name)
	if !found {
		return nil, NewUnresolvedPropertyError(name, "unknown type")
	}

	var operand expr.Expr
	if len(n.Parameters) == 2 {
		var err error
		if operand, err = b.bind(n.Parameters[0]); err != nil {
			return nil, err
		}
	} else {
		if len(b.scopes) == 0 {
			return nil, NewUnresolvedPropertyError("$it", "range variable is not in scope")
		}
		operand = b.scopes[len(b.scopes)-1].param
	}

	targetRef := edm.NewTypeRef(target, true)
	if cast {
		return b.convert(operand, targetRef, construct)
	}

	if st := targetRef.Structured(); st != nil {
		if operand.Type().Structured() == nil {
			return &expr.Constant{Value: false, T: boolType(false)}, nil
		}
		return &expr.TypeCheck{Operand: operand, Target: st, Resolve: b.instanceType}, nil
	}
	if operand.Type().Kind() == edm.KindUntyped {
		return &expr.Call{Func: isOfKind(targetRef), Args: []expr.Expr{operand}, T: boolType(false)}, nil
	}
	return &expr.Constant{Value: edm.Equivalent(operand.Type(), targetRef), T: boolType(false)}, nil
}

// isOfKind tests the runtime type of an untyped value.
func isOfKind(t edm.TypeRef) *expr.Function {
	k := t.PrimitiveKind()
	if e := t.Enum(); e != nil {
		k = edm.Int64
	}
	return &expr.Function{
		Name:        "isof(" + t.AsNonNullable().String() + ")",
		Params:      []edm.PrimitiveKind{0},
		Return:      boolType(false),
		AcceptsNull: true,
		Impl: func(a []any) (any, error) {
			got, ok := edm.InferType(a[0])
			if !ok {
				return false, nil
			}
			return representation(got.PrimitiveKind()) == representation(k), nil
		},
	}
}

func (b *binder) resolveTypeName(name string) (edm.Type, bool) {
	if p, ok := edm.PrimitiveByName(name); ok {
		return p, true
	}
	if b.model == nil {
		return nil, false
	}
	return b.model.FindType(name)
}

// finalize collapses a nullable boolean so null reads as false.
func finalize(e expr.Expr) expr.Expr {
	if !mayBeNull(e) {
		return e
	}
	return &expr.IsTrue{Operand: e}
}
