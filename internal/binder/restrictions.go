package binder

import (
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/semantic"
)

// Restriction names reported in RESTRICTED errors.
const (
	RestrictionNotFilterable = "not filterable"
	RestrictionNotSortable   = "not sortable"
	RestrictionNotExpandable = "not expandable"
	RestrictionNotCountable  = "not countable"
)

// Clauses are the clauses of one request.
type Clauses struct {
	Filter       *semantic.FilterClause
	OrderBy      *semantic.OrderByClause
	Apply        *semantic.ApplyClause
	SelectExpand *semantic.SelectExpandClause
}

// ValidateRestrictions checks every property the clauses use against its
// declared restrictions. It returns all violations found, in clause order,
// and does not stop at the first. The binder assumes clauses passed this
// check.
func ValidateRestrictions(model *edm.Model, c Clauses) []*CompileError {
	v := &restrictionValidator{model: model, seen: make(map[string]bool)}
	if c.Filter != nil {
		v.filter(c.Filter)
	}
	if c.OrderBy != nil {
		v.orderBy(c.OrderBy)
	}
	if c.Apply != nil {
		for _, t := range c.Apply.Transformations {
			if f, ok := t.(*semantic.FilterTransformation); ok && f.Filter != nil {
				v.filter(f.Filter)
			}
		}
	}
	v.selectExpand(c.SelectExpand)
	return v.errs
}

type restrictionValidator struct {
	model *edm.Model
	errs  []*CompileError
	seen  map[string]bool
}

func (v *restrictionValidator) report(p *edm.Property, restriction string) {
	key := p.String() + "|" + restriction
	if v.seen[key] {
		return
	}
	v.seen[key] = true
	v.errs = append(v.errs, NewRestrictedError(p.String(), restriction))
}

func (v *restrictionValidator) restrictions(p *edm.Property) edm.Restrictions {
	if v.model == nil {
		return p.Restrictions
	}
	return v.model.Restrictions(p)
}

// check reports every restricted property read by n.
func (v *restrictionValidator) check(n semantic.Node, restriction string, violated func(edm.Restrictions) bool) {
	semantic.Walk(n, func(n semantic.Node) bool {
		if p := propertyOf(n); p != nil && violated(v.restrictions(p)) {
			v.report(p, restriction)
		}
		if c, ok := n.(*semantic.CountNode); ok {
			if p := propertyOf(c.Source); p != nil && v.restrictions(p).NotCountable {
				v.report(p, RestrictionNotCountable)
			}
		}
		return true
	})
}

func (v *restrictionValidator) filter(c *semantic.FilterClause) {
	v.check(c.Expression, RestrictionNotFilterable, func(r edm.Restrictions) bool { return r.NotFilterable })
}

func (v *restrictionValidator) orderBy(c *semantic.OrderByClause) {
	for _, k := range c.Keys() {
		v.check(k.Expression, RestrictionNotSortable, func(r edm.Restrictions) bool { return r.NotSortable })
	}
}

func (v *restrictionValidator) selectExpand(c *semantic.SelectExpandClause) {
	if c == nil {
		return
	}
	for _, it := range c.Items {
		switch it := it.(type) {
		case *semantic.PathSelectItem:
			v.selectExpand(it.SelectAndExpand)
		case *semantic.ExpandedNavigationSelectItem:
			r := v.restrictions(it.Navigation)
			if r.NotExpandable {
				v.report(it.Navigation, RestrictionNotExpandable)
			}
			if it.Count && r.NotCountable {
				v.report(it.Navigation, RestrictionNotCountable)
			}
			if it.Filter != nil {
				v.filter(it.Filter)
			}
			if it.OrderBy != nil {
				v.orderBy(it.OrderBy)
			}
			v.selectExpand(it.SelectAndExpand)
		}
	}
}

func propertyOf(n semantic.Node) *edm.Property {
	switch n := n.(type) {
	case *semantic.SingleValuePropertyAccessNode:
		return n.Property
	case *semantic.SingleComplexNode:
		return n.Property
	case *semantic.SingleNavigationNode:
		return n.Property
	case *semantic.CollectionPropertyAccessNode:
		return n.Property
	case *semantic.CollectionComplexNode:
		return n.Property
	case *semantic.CollectionNavigationNode:
		return n.Property
	}
	return nil
}
