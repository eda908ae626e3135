package queryir

import (
	"fmt"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/semantic"
)

// Query is a translatable query over one table.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: rows of the table, filtered, ordered and paged
//   - Count: the number of rows matching a filter
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Table maps an entity type to a table. Every single-valued primitive or
// enum property of the type, base type properties included, is a column.
type Table struct {
	Name    string
	Type    *edm.StructuredType
	Columns []Column
}

// Column is one column of a table.
type Column struct {
	Name     string
	Property *edm.Property
}

// TableOf returns the table of t, named after the type's short name.
func TableOf(t *edm.StructuredType) *Table {
	tbl := &Table{Name: t.Name, Type: t}
	for _, p := range t.StructuralProperties() {
		if IsColumn(p) {
			tbl.Columns = append(tbl.Columns, Column{Name: p.Name, Property: p})
		}
	}
	return tbl
}

// IsColumn reports whether p is stored as a column.
func IsColumn(p *edm.Property) bool {
	if p.Navigation || p.IsCollection() {
		return false
	}
	switch p.Type.Kind() {
	case edm.KindPrimitive, edm.KindEnum:
		return true
	}
	return false
}

// Column returns the column that stores p.
func (t *Table) Column(p *edm.Property) (Column, bool) {
	for _, c := range t.Columns {
		if c.Property == p {
			return c, true
		}
	}
	return Column{}, false
}

// Select reads rows of From.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <where> ORDER BY <order> LIMIT <limit> OFFSET <offset>
//
// Where and the order keys are bound expressions over one row parameter.
// A nil Where keeps every row; nil Limit and Offset do not page. Columns
// narrows the selected columns; nil selects every column of From.
type Select struct {
	From    *Table
	Columns []Column
	Where   expr.Expr
	OrderBy []OrderTerm
	Limit   *int
	Offset  *int
}

func (*Select) queryNode() {}

// Selected returns the columns the select reads.
func (s *Select) Selected() []Column {
	if s.Columns != nil {
		return s.Columns
	}
	return s.From.Columns
}

// OrderTerm is one ORDER BY key.
type OrderTerm struct {
	Key        expr.Expr
	Descending bool
}

// Count counts the rows of From matching Where.
type Count struct {
	From  *Table
	Where expr.Expr
}

func (*Count) queryNode() {}

// NewSelect builds a Select over table from a bound filter and ordering,
// either of which may be nil.
func NewSelect(table *Table, filter *binder.Predicate, order *binder.Ordering) (*Select, error) {
	if table == nil {
		return nil, fmt.Errorf("select needs a table")
	}
	s := &Select{From: table}
	if filter != nil {
		s.Where = filter.Expr
	}
	if order != nil {
		for _, k := range order.Keys {
			s.OrderBy = append(s.OrderBy, OrderTerm{Key: k.Expr, Descending: k.Direction == semantic.Descending})
		}
	}
	return s, nil
}

// NewCount builds a Count over table from a bound filter, which may be nil.
func NewCount(table *Table, filter *binder.Predicate) (*Count, error) {
	if table == nil {
		return nil, fmt.Errorf("count needs a table")
	}
	c := &Count{From: table}
	if filter != nil {
		c.Where = filter.Expr
	}
	return c, nil
}
