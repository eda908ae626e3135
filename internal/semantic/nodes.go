// Package semantic defines the bound query AST the binder consumes.
//
// Nodes are produced by a URI parser (or decoded from a scenario document)
// with every name already resolved against an edm.Model. The node set is
// closed: Node is sealed by an unexported marker method so the binder can
// switch over it exhaustively and report anything else as unsupported.
//
// Nodes are immutable once built. The binder never modifies them.
package semantic

import "github.com/roach88/querybind/internal/edm"

// Node is any query AST node.
//
// This is a sealed interface - only types in this package implement it.
type Node interface {
	Kind() NodeKind
	semanticNode()
}

// SingleValueNode is a node producing one value per evaluation.
type SingleValueNode interface {
	Node
	TypeRef() edm.TypeRef
}

// CollectionNode is a node producing a collection of items.
type CollectionNode interface {
	Node
	ItemType() edm.TypeRef
}

// NodeKind identifies a node type. It is used in error messages.
type NodeKind int

const (
	KindBinaryOperator NodeKind = iota + 1
	KindUnaryOperator
	KindConstant
	KindCollectionConstant
	KindConvert
	KindRangeVariableReference
	KindSingleValuePropertyAccess
	KindSingleComplex
	KindSingleNavigation
	KindCollectionPropertyAccess
	KindCollectionComplex
	KindCollectionNavigation
	KindSingleValueOpenPropertyAccess
	KindSingleValueFunctionCall
	KindAny
	KindAll
	KindIn
	KindCount
	KindSingleResourceCast
)

var nodeKindNames = map[NodeKind]string{
	KindBinaryOperator:                "BinaryOperator",
	KindUnaryOperator:                 "UnaryOperator",
	KindConstant:                      "Constant",
	KindCollectionConstant:            "CollectionConstant",
	KindConvert:                       "Convert",
	KindRangeVariableReference:        "RangeVariableReference",
	KindSingleValuePropertyAccess:     "SingleValuePropertyAccess",
	KindSingleComplex:                 "SingleComplex",
	KindSingleNavigation:              "SingleNavigation",
	KindCollectionPropertyAccess:      "CollectionPropertyAccess",
	KindCollectionComplex:             "CollectionComplex",
	KindCollectionNavigation:          "CollectionNavigation",
	KindSingleValueOpenPropertyAccess: "SingleValueOpenPropertyAccess",
	KindSingleValueFunctionCall:       "SingleValueFunctionCall",
	KindAny:                           "Any",
	KindAll:                           "All",
	KindIn:                            "In",
	KindCount:                         "Count",
	KindSingleResourceCast:            "SingleResourceCast",
}

func (k NodeKind) String() string {
	if n, ok := nodeKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// BinaryOperatorKind is a binary operator.
type BinaryOperatorKind int

const (
	Or BinaryOperatorKind = iota + 1
	And
	Equal
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	Has
	Add
	Subtract
	Multiply
	Divide
	Modulo
)

var binaryOperatorNames = map[BinaryOperatorKind]string{
	Or:                 "or",
	And:                "and",
	Equal:              "eq",
	NotEqual:           "ne",
	GreaterThan:        "gt",
	GreaterThanOrEqual: "ge",
	LessThan:           "lt",
	LessThanOrEqual:    "le",
	Has:                "has",
	Add:                "add",
	Subtract:           "sub",
	Multiply:           "mul",
	Divide:             "div",
	Modulo:             "mod",
}

func (k BinaryOperatorKind) String() string {
	if n, ok := binaryOperatorNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseBinaryOperator resolves an OData operator keyword.
func ParseBinaryOperator(s string) (BinaryOperatorKind, bool) {
	for k, n := range binaryOperatorNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// IsLogical reports whether k is and/or.
func (k BinaryOperatorKind) IsLogical() bool { return k == And || k == Or }

// IsComparison reports whether k is a relational or equality operator.
func (k BinaryOperatorKind) IsComparison() bool {
	return k >= Equal && k <= LessThanOrEqual
}

// IsArithmetic reports whether k is add, sub, mul, div or mod.
func (k BinaryOperatorKind) IsArithmetic() bool { return k >= Add && k <= Modulo }

// UnaryOperatorKind is a unary operator.
type UnaryOperatorKind int

const (
	Not UnaryOperatorKind = iota + 1
	Negate
)

func (k UnaryOperatorKind) String() string {
	switch k {
	case Not:
		return "not"
	case Negate:
		return "-"
	}
	return "unknown"
}

var boolRef = edm.PrimitiveRef(edm.Boolean, false)

// BinaryOperatorNode combines two operands.
type BinaryOperatorNode struct {
	Operator BinaryOperatorKind
	Left     SingleValueNode
	Right    SingleValueNode
}

func (*BinaryOperatorNode) semanticNode()  {}
func (*BinaryOperatorNode) Kind() NodeKind { return KindBinaryOperator }

func (n *BinaryOperatorNode) TypeRef() edm.TypeRef {
	if n.Operator.IsLogical() || n.Operator.IsComparison() || n.Operator == Has {
		return boolRef
	}
	return n.Left.TypeRef()
}

// UnaryOperatorNode applies not or negation.
type UnaryOperatorNode struct {
	Operator UnaryOperatorKind
	Operand  SingleValueNode
}

func (*UnaryOperatorNode) semanticNode()  {}
func (*UnaryOperatorNode) Kind() NodeKind { return KindUnaryOperator }

func (n *UnaryOperatorNode) TypeRef() edm.TypeRef {
	if n.Operator == Not {
		return boolRef
	}
	return n.Operand.TypeRef()
}

// ConstantNode is a literal. A ConstantNode with a zero Type is the null
// literal. LiteralText keeps the source text for enum literals and error
// messages.
type ConstantNode struct {
	Value       any
	Type        edm.TypeRef
	LiteralText string
}

func (*ConstantNode) semanticNode()          {}
func (*ConstantNode) Kind() NodeKind         { return KindConstant }
func (n *ConstantNode) TypeRef() edm.TypeRef { return n.Type }

// CollectionConstantNode is a literal list, the right side of "in".
type CollectionConstantNode struct {
	Items []*ConstantNode
	Type  edm.TypeRef
}

func (*CollectionConstantNode) semanticNode()           {}
func (*CollectionConstantNode) Kind() NodeKind          { return KindCollectionConstant }
func (n *CollectionConstantNode) ItemType() edm.TypeRef { return n.Type }

// ConvertNode is an implicit conversion inserted by the parser.
type ConvertNode struct {
	Source SingleValueNode
	Type   edm.TypeRef
}

func (*ConvertNode) semanticNode()          {}
func (*ConvertNode) Kind() NodeKind         { return KindConvert }
func (n *ConvertNode) TypeRef() edm.TypeRef { return n.Type }

// RangeVariable is the element binding of a clause ($it) or a lambda.
type RangeVariable struct {
	Name string
	Type edm.TypeRef
}

// It returns the implicit "$it" range variable over elementType.
func It(elementType edm.Type) *RangeVariable {
	return &RangeVariable{Name: "$it", Type: edm.NewTypeRef(elementType, false)}
}

// RangeVariableReferenceNode refers to a range variable in scope.
type RangeVariableReferenceNode struct {
	Variable *RangeVariable
}

func (*RangeVariableReferenceNode) semanticNode()          {}
func (*RangeVariableReferenceNode) Kind() NodeKind         { return KindRangeVariableReference }
func (n *RangeVariableReferenceNode) TypeRef() edm.TypeRef { return n.Variable.Type }

// SingleValuePropertyAccessNode reads a primitive or enum property.
type SingleValuePropertyAccessNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*SingleValuePropertyAccessNode) semanticNode()          {}
func (*SingleValuePropertyAccessNode) Kind() NodeKind         { return KindSingleValuePropertyAccess }
func (n *SingleValuePropertyAccessNode) TypeRef() edm.TypeRef { return n.Property.Type }

// SingleComplexNode reads a complex-typed property.
type SingleComplexNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*SingleComplexNode) semanticNode()          {}
func (*SingleComplexNode) Kind() NodeKind         { return KindSingleComplex }
func (n *SingleComplexNode) TypeRef() edm.TypeRef { return n.Property.Type }

// SingleNavigationNode follows a single-valued navigation property.
type SingleNavigationNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*SingleNavigationNode) semanticNode()          {}
func (*SingleNavigationNode) Kind() NodeKind         { return KindSingleNavigation }
func (n *SingleNavigationNode) TypeRef() edm.TypeRef { return n.Property.Type.AsNullable() }

// CollectionPropertyAccessNode reads a collection of primitive or enum values.
type CollectionPropertyAccessNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*CollectionPropertyAccessNode) semanticNode()           {}
func (*CollectionPropertyAccessNode) Kind() NodeKind          { return KindCollectionPropertyAccess }
func (n *CollectionPropertyAccessNode) ItemType() edm.TypeRef { return n.Property.ElementType() }

// CollectionComplexNode reads a collection of complex values.
type CollectionComplexNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*CollectionComplexNode) semanticNode()           {}
func (*CollectionComplexNode) Kind() NodeKind          { return KindCollectionComplex }
func (n *CollectionComplexNode) ItemType() edm.TypeRef { return n.Property.ElementType() }

// CollectionNavigationNode follows a collection-valued navigation property.
type CollectionNavigationNode struct {
	Source   SingleValueNode
	Property *edm.Property
}

func (*CollectionNavigationNode) semanticNode()           {}
func (*CollectionNavigationNode) Kind() NodeKind          { return KindCollectionNavigation }
func (n *CollectionNavigationNode) ItemType() edm.TypeRef { return n.Property.ElementType() }

// SingleValueOpenPropertyAccessNode reads an undeclared property of an open
// type, or an alias introduced by a previous $apply stage.
type SingleValueOpenPropertyAccessNode struct {
	Source SingleValueNode
	Name   string
}

func (*SingleValueOpenPropertyAccessNode) semanticNode()  {}
func (*SingleValueOpenPropertyAccessNode) Kind() NodeKind { return KindSingleValueOpenPropertyAccess }

func (n *SingleValueOpenPropertyAccessNode) TypeRef() edm.TypeRef {
	return edm.NewTypeRef(edm.Untyped(), true)
}

// SingleValueFunctionCallNode calls a canonical or custom function. For
// cast and isof the last parameter is a ConstantNode holding the target type
// name.
type SingleValueFunctionCallNode struct {
	Name       string
	Parameters []Node
	Type       edm.TypeRef
}

func (*SingleValueFunctionCallNode) semanticNode()          {}
func (*SingleValueFunctionCallNode) Kind() NodeKind         { return KindSingleValueFunctionCall }
func (n *SingleValueFunctionCallNode) TypeRef() edm.TypeRef { return n.Type }

// AnyNode is true when Body holds for some item of Source. A nil Body tests
// for a non-empty collection.
type AnyNode struct {
	Source   CollectionNode
	Variable *RangeVariable
	Body     SingleValueNode
}

func (*AnyNode) semanticNode()        {}
func (*AnyNode) Kind() NodeKind       { return KindAny }
func (*AnyNode) TypeRef() edm.TypeRef { return boolRef }

// AllNode is true when Body holds for every item of Source.
type AllNode struct {
	Source   CollectionNode
	Variable *RangeVariable
	Body     SingleValueNode
}

func (*AllNode) semanticNode()        {}
func (*AllNode) Kind() NodeKind       { return KindAll }
func (*AllNode) TypeRef() edm.TypeRef { return boolRef }

// InNode tests membership of Left in Right.
type InNode struct {
	Left  SingleValueNode
	Right CollectionNode
}

func (*InNode) semanticNode()        {}
func (*InNode) Kind() NodeKind       { return KindIn }
func (*InNode) TypeRef() edm.TypeRef { return boolRef }

// CountNode is the $count of a collection, optionally filtered.
type CountNode struct {
	Source CollectionNode
	Filter *FilterClause
}

func (*CountNode) semanticNode()  {}
func (*CountNode) Kind() NodeKind { return KindCount }

func (*CountNode) TypeRef() edm.TypeRef { return edm.PrimitiveRef(edm.Int64, false) }

// SingleResourceCastNode narrows Source to a derived structured type. The
// result is null when the instance is not of that type.
type SingleResourceCastNode struct {
	Source SingleValueNode
	Type   *edm.StructuredType
}

func (*SingleResourceCastNode) semanticNode()          {}
func (*SingleResourceCastNode) Kind() NodeKind         { return KindSingleResourceCast }
func (n *SingleResourceCastNode) TypeRef() edm.TypeRef { return edm.NewTypeRef(n.Type, true) }
