package semantic

import (
	"fmt"
	"strings"
)

// Format renders n in OData URL syntax. It is used for logging and error
// messages; the output is not guaranteed to round-trip through a parser.
func Format(n Node) string {
	var b strings.Builder
	format(&b, n)
	return b.String()
}

func format(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case nil:
		b.WriteString("<nil>")
	case *BinaryOperatorNode:
		b.WriteByte('(')
		format(b, n.Left)
		fmt.Fprintf(b, " %s ", n.Operator)
		format(b, n.Right)
		b.WriteByte(')')
	case *UnaryOperatorNode:
		if n.Operator == Not {
			b.WriteString("not ")
		} else {
			b.WriteByte('-')
		}
		format(b, n.Operand)
	case *ConstantNode:
		b.WriteString(n.LiteralText)
	case *CollectionConstantNode:
		b.WriteByte('(')
		for i, it := range n.Items {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(it.LiteralText)
		}
		b.WriteByte(')')
	case *ConvertNode:
		format(b, n.Source)
	case *RangeVariableReferenceNode:
		b.WriteString(n.Variable.Name)
	case *SingleValuePropertyAccessNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *SingleComplexNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *SingleNavigationNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *CollectionPropertyAccessNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *CollectionComplexNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *CollectionNavigationNode:
		formatSegment(b, n.Source, n.Property.Name)
	case *SingleValueOpenPropertyAccessNode:
		formatSegment(b, n.Source, n.Name)
	case *SingleResourceCastNode:
		formatSegment(b, n.Source, n.Type.FullName())
	case *SingleValueFunctionCallNode:
		b.WriteString(n.Name)
		b.WriteByte('(')
		for i, p := range n.Parameters {
			if i > 0 {
				b.WriteByte(',')
			}
			format(b, p)
		}
		b.WriteByte(')')
	case *AnyNode:
		formatLambda(b, "any", n.Source, n.Variable, n.Body)
	case *AllNode:
		formatLambda(b, "all", n.Source, n.Variable, n.Body)
	case *InNode:
		format(b, n.Left)
		b.WriteString(" in ")
		format(b, n.Right)
	case *CountNode:
		format(b, n.Source)
		b.WriteString("/$count")
		if n.Filter != nil {
			b.WriteString("($filter=")
			format(b, n.Filter.Expression)
			b.WriteByte(')')
		}
	default:
		fmt.Fprintf(b, "<%T>", n)
	}
}

// formatSegment writes source/name, dropping the implicit $it prefix.
func formatSegment(b *strings.Builder, source Node, name string) {
	if ref, ok := source.(*RangeVariableReferenceNode); !ok || ref.Variable.Name != "$it" {
		format(b, source)
		b.WriteByte('/')
	}
	b.WriteString(name)
}

func formatLambda(b *strings.Builder, op string, source CollectionNode, v *RangeVariable, body SingleValueNode) {
	format(b, source)
	b.WriteByte('/')
	b.WriteString(op)
	b.WriteByte('(')
	if body != nil {
		b.WriteString(v.Name)
		b.WriteByte(':')
		format(b, body)
	}
	b.WriteByte(')')
}

// FormatOrderBy renders an order-by chain.
func FormatOrderBy(c *OrderByClause) string {
	var parts []string
	for _, k := range c.Keys() {
		s := Format(k.Expression)
		if k.Direction == Descending {
			s += " desc"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}
