package semantic

import "github.com/roach88/querybind/internal/edm"

// FilterClause is a bound $filter.
type FilterClause struct {
	Expression    SingleValueNode
	RangeVariable *RangeVariable
}

// OrderByDirection is the sort direction of one order-by key.
type OrderByDirection int

const (
	Ascending OrderByDirection = iota
	Descending
)

func (d OrderByDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// OrderByClause is one $orderby key. ThenBy links the next key.
type OrderByClause struct {
	Expression    SingleValueNode
	Direction     OrderByDirection
	RangeVariable *RangeVariable
	ThenBy        *OrderByClause
}

// Keys flattens the ThenBy chain.
func (c *OrderByClause) Keys() []*OrderByClause {
	var keys []*OrderByClause
	for cur := c; cur != nil; cur = cur.ThenBy {
		keys = append(keys, cur)
	}
	return keys
}

// ApplyClause is a bound $apply: a pipeline of transformations.
type ApplyClause struct {
	Transformations []Transformation
}

// Transformation is one $apply stage.
//
// This is a sealed interface - only types in this package implement it.
type Transformation interface {
	transformationNode()
}

// AggregationMethod is the method of an aggregate expression.
type AggregationMethod int

const (
	Sum AggregationMethod = iota + 1
	Min
	Max
	Average
	CountDistinct
	// VirtualPropertyCount is "$count as Alias": the group cardinality.
	VirtualPropertyCount
	// Custom resolves Method label plus input type in the function registry.
	Custom
)

var aggregationNames = map[AggregationMethod]string{
	Sum:                  "sum",
	Min:                  "min",
	Max:                  "max",
	Average:              "average",
	CountDistinct:        "countdistinct",
	VirtualPropertyCount: "$count",
	Custom:               "custom",
}

func (m AggregationMethod) String() string {
	if n, ok := aggregationNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseAggregationMethod resolves a built-in method keyword. Anything else is
// a custom method label.
func ParseAggregationMethod(s string) AggregationMethod {
	for m, n := range aggregationNames {
		if n == s && m != Custom {
			return m
		}
	}
	return Custom
}

// AggregateExpression is "Expression with Method as Alias". Expression is nil
// for VirtualPropertyCount.
type AggregateExpression struct {
	Expression  SingleValueNode
	Method      AggregationMethod
	MethodLabel string
	Alias       string
}

// GroupByPropertyNode is one grouping property. Leaf nodes carry an
// Expression; navigation or complex segments carry Children instead.
type GroupByPropertyNode struct {
	Name       string
	Expression SingleValueNode
	Children   []*GroupByPropertyNode
}

// GroupByTransformation is groupby((props), aggregate(...)).
type GroupByTransformation struct {
	GroupingProperties []*GroupByPropertyNode
	Child              *AggregateTransformation
}

func (*GroupByTransformation) transformationNode() {}

// AggregateTransformation is aggregate(...).
type AggregateTransformation struct {
	Expressions []*AggregateExpression
}

func (*AggregateTransformation) transformationNode() {}

// FilterTransformation is filter(...) inside $apply.
type FilterTransformation struct {
	Filter *FilterClause
}

func (*FilterTransformation) transformationNode() {}

// SelectExpandClause is a bound $select/$expand pair.
type SelectExpandClause struct {
	Items []SelectItem
}

// AllSelected reports whether no explicit $select narrows the field set:
// either a wildcard is present or every item is an expansion.
func (c *SelectExpandClause) AllSelected() bool {
	if c == nil {
		return true
	}
	for _, it := range c.Items {
		switch it.(type) {
		case *WildcardSelectItem:
			return true
		case *PathSelectItem:
			return false
		}
	}
	return true
}

// SelectItem is one entry of a SelectExpandClause.
//
// This is a sealed interface - only types in this package implement it.
type SelectItem interface {
	selectItem()
}

// PathSelectItem selects one structural property. SelectAndExpand narrows a
// complex property further. A non-empty DynamicName selects a dynamic
// property of an open type instead.
type PathSelectItem struct {
	Property        *edm.Property
	DynamicName     string
	SelectAndExpand *SelectExpandClause
}

func (*PathSelectItem) selectItem() {}

// WildcardSelectItem is "*".
type WildcardSelectItem struct{}

func (*WildcardSelectItem) selectItem() {}

// ExpandedNavigationSelectItem expands a navigation property with its own
// nested options.
type ExpandedNavigationSelectItem struct {
	Navigation      *edm.Property
	Cast            *edm.StructuredType
	SelectAndExpand *SelectExpandClause
	Filter          *FilterClause
	OrderBy         *OrderByClause
	Top             *int
	Skip            *int
	Count           bool
}

func (*ExpandedNavigationSelectItem) selectItem() {}
