package semantic

// Walk visits n and its descendants depth-first. Returning false from visit
// skips the children of that node. Lambda bodies and $count filters are
// visited after their sources.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range children(n) {
		Walk(c, visit)
	}
}

func children(n Node) []Node {
	switch n := n.(type) {
	case *BinaryOperatorNode:
		return []Node{n.Left, n.Right}
	case *UnaryOperatorNode:
		return []Node{n.Operand}
	case *CollectionConstantNode:
		out := make([]Node, len(n.Items))
		for i, it := range n.Items {
			out[i] = it
		}
		return out
	case *ConvertNode:
		return []Node{n.Source}
	case *SingleValuePropertyAccessNode:
		return []Node{n.Source}
	case *SingleComplexNode:
		return []Node{n.Source}
	case *SingleNavigationNode:
		return []Node{n.Source}
	case *CollectionPropertyAccessNode:
		return []Node{n.Source}
	case *CollectionComplexNode:
		return []Node{n.Source}
	case *CollectionNavigationNode:
		return []Node{n.Source}
	case *SingleValueOpenPropertyAccessNode:
		return []Node{n.Source}
	case *SingleResourceCastNode:
		return []Node{n.Source}
	case *SingleValueFunctionCallNode:
		return n.Parameters
	case *AnyNode:
		return withBody(n.Source, n.Body)
	case *AllNode:
		return withBody(n.Source, n.Body)
	case *InNode:
		return []Node{n.Left, n.Right}
	case *CountNode:
		if n.Filter != nil {
			return withBody(n.Source, n.Filter.Expression)
		}
		return []Node{n.Source}
	}
	return nil
}

func withBody(source CollectionNode, body SingleValueNode) []Node {
	if body == nil {
		return []Node{source}
	}
	return []Node{source, body}
}
