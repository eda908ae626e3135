// Package expr is the typed expression tree the binder emits.
//
// A bound clause is an Expr over one or more Parameters. The tree is
// evaluated in memory by compiling it to closures (Compile) or translated by
// a provider such as querysql. Null propagation is explicit in the tree:
// a Guard yields null when any of its checks is null, and the guard
// elimination rewrite keeps guards from nesting.
package expr

import (
	"github.com/roach88/querybind/internal/edm"
)

// Expr is a node of the emitted expression tree.
//
// This is a sealed interface - only types in this package implement it.
type Expr interface {
	Type() edm.TypeRef
	String() string
	exprNode()
}

// Op is a binary operator of the emitted tree.
type Op int

const (
	OpEq Op = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpHas
)

// IsComparison reports whether op compares its operands.
func (op Op) IsComparison() bool { return op >= OpEq && op <= OpGe }

// IsArithmetic reports whether op is arithmetic.
func (op Op) IsArithmetic() bool { return op >= OpAdd && op <= OpMod }

// Constant is a literal value. Parameterized constants are rendered as bind
// parameters by translating providers instead of being inlined.
type Constant struct {
	Value         any
	T             edm.TypeRef
	Parameterized bool
}

func (*Constant) exprNode()            {}
func (e *Constant) Type() edm.TypeRef { return e.T }

// NullOf returns a typed null constant.
func NullOf(t edm.TypeRef) *Constant {
	return &Constant{T: t.AsNullable()}
}

// Parameter is a range variable bound to an environment slot.
type Parameter struct {
	Name string
	Slot int
	T    edm.TypeRef
}

func (*Parameter) exprNode()            {}
func (e *Parameter) Type() edm.TypeRef { return e.T }

// Member reads a declared property of its source. A null source is a null
// reference error; the binder guards sources that may be null.
type Member struct {
	Source   Expr
	Property *edm.Property
	T        edm.TypeRef
}

func (*Member) exprNode()            {}
func (e *Member) Type() edm.TypeRef { return e.T }

// DynamicMember reads a key of an open type's dynamic property container.
// An absent key yields null.
type DynamicMember struct {
	Source    Expr
	Container edm.Accessor
	Name      string
}

func (*DynamicMember) exprNode() {}

func (e *DynamicMember) Type() edm.TypeRef { return edm.NewTypeRef(edm.Untyped(), true) }

// WrapperField reads a slash-separated path from a grouped row
// (*record.GroupByWrapper) produced by a previous aggregation stage.
type WrapperField struct {
	Source Expr
	Path   string
	T      edm.TypeRef
}

func (*WrapperField) exprNode()            {}
func (e *WrapperField) Type() edm.TypeRef { return e.T }

// Binary applies Op to two operands of the same runtime representation.
// When LiftToNull is set a null operand yields null; otherwise equality
// treats null as a comparable value (null eq null is true).
// And and Or always use three-valued logic.
type Binary struct {
	Op         Op
	Left       Expr
	Right      Expr
	T          edm.TypeRef
	LiftToNull bool
}

func (*Binary) exprNode()            {}
func (e *Binary) Type() edm.TypeRef { return e.T }

// UnaryOp is a unary operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNegate
)

// Unary applies not or negation. A null operand yields null.
type Unary struct {
	Op      UnaryOp
	Operand Expr
	T       edm.TypeRef
}

func (*Unary) exprNode()            {}
func (e *Unary) Type() edm.TypeRef { return e.T }

// Convert changes the runtime representation of Operand to T. A null operand
// yields null.
type Convert struct {
	Operand Expr
	T       edm.TypeRef
}

func (*Convert) exprNode()            {}
func (e *Convert) Type() edm.TypeRef { return e.T }

// Function is the descriptor of a callable operation.
type Function struct {
	Name string
	// Params lists the primitive kind of each parameter; zero accepts any
	// value.
	Params []edm.PrimitiveKind
	Return edm.TypeRef
	// AcceptsNull functions receive null arguments. Others fail with a null
	// reference error when an argument is null at evaluation time.
	AcceptsNull bool
	Impl        func(args []any) (any, error)
}

// Call invokes Func.
type Call struct {
	Func *Function
	Args []Expr
	T    edm.TypeRef
}

func (*Call) exprNode()            {}
func (e *Call) Type() edm.TypeRef { return e.T }

// Guard yields null when any check evaluates to null, and Body otherwise.
// Guards are built with NewGuard, which never nests them.
type Guard struct {
	Checks []Expr
	Body   Expr
}

func (*Guard) exprNode()            {}
func (e *Guard) Type() edm.TypeRef { return e.Body.Type().AsNullable() }

// IsTrue collapses a nullable boolean: null and false are false.
type IsTrue struct {
	Operand Expr
}

func (*IsTrue) exprNode() {}

func (e *IsTrue) Type() edm.TypeRef { return edm.PrimitiveRef(edm.Boolean, false) }

// QuantifierKind is any or all.
type QuantifierKind int

const (
	QuantifierAny QuantifierKind = iota + 1
	QuantifierAll
)

func (k QuantifierKind) String() string {
	if k == QuantifierAll {
		return "all"
	}
	return "any"
}

// Quantifier tests Body over the items of Source bound to Param. A nil Body
// tests for a non-empty source. Body results are collapsed with IsTrue.
type Quantifier struct {
	Kind   QuantifierKind
	Source Expr
	Param  *Parameter
	Body   Expr
}

func (*Quantifier) exprNode() {}

func (e *Quantifier) Type() edm.TypeRef { return edm.PrimitiveRef(edm.Boolean, false) }

// Count counts the items of Source, or those for which Filter holds.
type Count struct {
	Source Expr
	Param  *Parameter
	Filter Expr
}

func (*Count) exprNode() {}

func (e *Count) Type() edm.TypeRef { return edm.PrimitiveRef(edm.Int64, false) }

// In tests membership of Operand in Items. A null operand yields null.
type In struct {
	Operand Expr
	Items   []Expr
}

func (*In) exprNode() {}

func (e *In) Type() edm.TypeRef { return edm.PrimitiveRef(edm.Boolean, true) }

// TypeCheck tests or narrows the structured type of Operand. With Cast set it
// yields the operand when it is of Target and null otherwise; without it
// yields a boolean.
type TypeCheck struct {
	Operand Expr
	Target  *edm.StructuredType
	Cast    bool
	// Resolve returns the structured type of a concrete instance.
	Resolve func(instance any) (*edm.StructuredType, bool)
}

func (*TypeCheck) exprNode() {}

func (e *TypeCheck) Type() edm.TypeRef {
	if e.Cast {
		return edm.NewTypeRef(e.Target, true)
	}
	return edm.PrimitiveRef(edm.Boolean, false)
}

// AggregateMethod is the reduction applied by Aggregate.
type AggregateMethod int

const (
	AggregateSum AggregateMethod = iota + 1
	AggregateMin
	AggregateMax
	AggregateAverage
	AggregateCountDistinct
	AggregateCount
	AggregateCustom
)

var aggregateNames = map[AggregateMethod]string{
	AggregateSum:           "sum",
	AggregateMin:           "min",
	AggregateMax:           "max",
	AggregateAverage:       "average",
	AggregateCountDistinct: "countdistinct",
	AggregateCount:         "count",
	AggregateCustom:        "custom",
}

func (m AggregateMethod) String() string { return aggregateNames[m] }

// AggregateFunc is a custom aggregation over the non-null projected values of
// a group.
type AggregateFunc struct {
	Label  string
	Input  edm.PrimitiveKind
	Return edm.TypeRef
	Impl   func(values []any) (any, error)
}

// Aggregate reduces the items of Source (a group) projected through Selector
// bound to Param. AggregateCount ignores Selector.
type Aggregate struct {
	Method   AggregateMethod
	Source   Expr
	Param    *Parameter
	Selector Expr
	Custom   *AggregateFunc
	T        edm.TypeRef
}

func (*Aggregate) exprNode()            {}
func (e *Aggregate) Type() edm.TypeRef { return e.T }
