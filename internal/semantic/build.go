package semantic

import (
	"fmt"
	"strings"

	"github.com/roach88/querybind/internal/edm"
)

// Ref returns a reference to v.
func Ref(v *RangeVariable) *RangeVariableReferenceNode {
	return &RangeVariableReferenceNode{Variable: v}
}

// Access returns the property node matching p's shape.
func Access(source SingleValueNode, p *edm.Property) Node {
	switch {
	case p.IsCollection() && p.Navigation:
		return &CollectionNavigationNode{Source: source, Property: p}
	case p.IsCollection() && p.ElementType().IsStructured():
		return &CollectionComplexNode{Source: source, Property: p}
	case p.IsCollection():
		return &CollectionPropertyAccessNode{Source: source, Property: p}
	case p.Navigation:
		return &SingleNavigationNode{Source: source, Property: p}
	case p.Type.IsStructured():
		return &SingleComplexNode{Source: source, Property: p}
	default:
		return &SingleValuePropertyAccessNode{Source: source, Property: p}
	}
}

// ResolvePath resolves a slash-separated path such as "Customer/Address/City"
// against source. Qualified segments naming a derived type insert a cast;
// undeclared segments on open types become open property access.
func ResolvePath(model *edm.Model, source SingleValueNode, path string) (Node, error) {
	var cur Node = source
	for _, seg := range strings.Split(path, "/") {
		single, ok := cur.(SingleValueNode)
		if !ok {
			return nil, fmt.Errorf("path %q: segment %q follows a collection", path, seg)
		}
		st := single.TypeRef().Structured()
		if st == nil {
			return nil, fmt.Errorf("path %q: segment %q follows a non-structured value", path, seg)
		}
		if strings.Contains(seg, ".") && model != nil {
			derived, found := model.StructuredType(seg)
			if !found || !st.IsAssignableFrom(derived) {
				return nil, fmt.Errorf("path %q: %q is not a type derived from %s", path, seg, st.FullName())
			}
			cur = &SingleResourceCastNode{Source: single, Type: derived}
			continue
		}
		if p, found := st.Property(seg); found {
			cur = Access(single, p)
			continue
		}
		if st.IsOpen() {
			cur = &SingleValueOpenPropertyAccessNode{Source: single, Name: seg}
			continue
		}
		return nil, fmt.Errorf("path %q: %s has no property %q", path, st.FullName(), seg)
	}
	return cur, nil
}

// Constant returns a literal whose type is inferred from v. Integers are
// typed Edm.Int32 when they fit, like OData numeric literals.
func Constant(v any) *ConstantNode {
	if v == nil {
		return Null()
	}
	norm := edm.NormalizeUntyped(v)
	t, ok := edm.InferType(norm)
	if !ok {
		return &ConstantNode{Value: v, Type: edm.NewTypeRef(edm.Untyped(), false), LiteralText: fmt.Sprint(v)}
	}
	if n, isInt := norm.(int64); isInt && n >= -1<<31 && n < 1<<31 {
		t = edm.PrimitiveRef(edm.Int32, false)
	}
	return &ConstantNode{Value: norm, Type: t, LiteralText: literalText(norm)}
}

// TypedConstant returns a literal of an explicit type.
func TypedConstant(v any, t edm.TypeRef) *ConstantNode {
	return &ConstantNode{Value: v, Type: t, LiteralText: literalText(v)}
}

// Null returns the untyped null literal.
func Null() *ConstantNode {
	return &ConstantNode{LiteralText: "null"}
}

// TypeName returns the literal naming a type, the last argument of cast and
// isof.
func TypeName(name string) *ConstantNode {
	return &ConstantNode{Value: name, Type: edm.PrimitiveRef(edm.String, false), LiteralText: name}
}

// Binary returns l op r.
func Binary(op BinaryOperatorKind, l, r SingleValueNode) *BinaryOperatorNode {
	return &BinaryOperatorNode{Operator: op, Left: l, Right: r}
}

// Call returns a function call node.
func Call(name string, args ...Node) *SingleValueFunctionCallNode {
	return &SingleValueFunctionCallNode{Name: name, Parameters: args}
}

func literalText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	}
	return fmt.Sprint(v)
}
