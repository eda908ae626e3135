package binder

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/record"
	"github.com/roach88/querybind/internal/semantic"
)

// Stage is one bound $apply transformation.
//
// This is a sealed interface - only types in this package implement it.
type Stage interface {
	// Run transforms the rows produced by the previous stage.
	Run(rows []any) ([]any, error)
	String() string
	stage()
}

// Pipeline is a bound $apply clause.
type Pipeline struct {
	Stages []Stage

	// Index describes the rows produced by the last grouping stage. It is nil
	// when the pipeline only filters.
	Index *FlattenedIndex

	model    *edm.Model
	element  edm.Type
	settings Settings
}

// Run executes every stage in order.
func (p *Pipeline) Run(rows []any) ([]any, error) {
	var err error
	for i, s := range p.Stages {
		if rows, err = s.Run(rows); err != nil {
			return nil, fmt.Errorf("apply stage %d (%s): %w", i+1, s, err)
		}
	}
	return rows, nil
}

func (p *Pipeline) String() string {
	parts := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// BindFilter binds a $filter over the rows the pipeline produces.
func (p *Pipeline) BindFilter(clause *semantic.FilterClause) (*Predicate, error) {
	b := newBinder("filter", p.model, p.settings)
	b.index = p.Index
	return bindFilter(b, clause, p.element)
}

// BindOrderBy binds an $orderby over the rows the pipeline produces.
func (p *Pipeline) BindOrderBy(clause *semantic.OrderByClause) (*Ordering, error) {
	b := newBinder("orderby", p.model, p.settings)
	b.index = p.Index
	return bindOrderBy(b, clause, p.element)
}

// BindApply binds an $apply clause over elements of elementType.
func BindApply(model *edm.Model, clause *semantic.ApplyClause, elementType edm.Type, settings Settings) (*Pipeline, error) {
	start := time.Now()
	s := settings.withDefaults()
	log := s.Logger.With("clause", "apply", "element", typeName(elementType))
	if clause == nil || len(clause.Transformations) == 0 {
		return nil, fmt.Errorf("apply clause has no transformations")
	}

	p := &Pipeline{model: model, element: elementType, settings: s}
	for _, t := range clause.Transformations {
		st, err := p.bindStage(t)
		if err != nil {
			log.Warn("apply rejected", "error", err)
			return nil, err
		}
		p.Stages = append(p.Stages, st)
	}

	log.Debug("bound apply", "pipeline", p.String(), "paths", p.Index.Paths(), "duration", time.Since(start))
	return p, nil
}

func (p *Pipeline) bindStage(t semantic.Transformation) (Stage, error) {
	switch t := t.(type) {
	case *semantic.FilterTransformation:
		pred, err := p.BindFilter(t.Filter)
		if err != nil {
			return nil, err
		}
		return &FilterStage{Predicate: pred}, nil
	case *semantic.GroupByTransformation:
		return p.bindGroup(t.GroupingProperties, t.Child)
	case *semantic.AggregateTransformation:
		return p.bindGroup(nil, t)
	}
	return nil, NewUnsupportedError("apply", fmt.Sprintf("%T", t))
}

func (p *Pipeline) bindGroup(props []*semantic.GroupByPropertyNode, agg *semantic.AggregateTransformation) (*GroupStage, error) {
	it := semantic.It(p.element)
	index := NewFlattenedIndex()
	g := &GroupStage{Grouped: props != nil, Index: index}

	kb := newBinder("groupby", p.model, p.settings)
	kb.index = p.Index
	g.Param = kb.push(it)
	keys, err := kb.bindGroupKeys(props, nil)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		index.Add(k.Path, k.Expr.Type())
	}
	g.Keys = keys

	if agg != nil {
		ab := newBinder("aggregate", p.model, p.settings)
		ab.index = p.Index
		g.Group = &expr.Parameter{Name: "$group", Slot: 0, T: edm.NewTypeRef(edm.CollectionOf(it.Type), false)}
		ab.slotBase = 1
		ab.push(it)
		for _, a := range agg.Expressions {
			v, err := ab.bindAggregate(g.Group, a)
			if err != nil {
				return nil, err
			}
			index.Add(v.Alias, v.Expr.Type())
			g.Aggregates = append(g.Aggregates, v)
		}
	}

	p.Index = index
	return g, nil
}

// bindGroupKeys flattens grouping property nodes into leaf keys whose paths
// join the segment names with "/".
func (b *binder) bindGroupKeys(props []*semantic.GroupByPropertyNode, prefix []string) ([]*GroupKey, error) {
	var keys []*GroupKey
	for _, gp := range props {
		segs := append(append([]string(nil), prefix...), gp.Name)
		if len(gp.Children) > 0 {
			inner, err := b.bindGroupKeys(gp.Children, segs)
			if err != nil {
				return nil, err
			}
			keys = append(keys, inner...)
			continue
		}
		if gp.Expression == nil {
			return nil, NewUnresolvedPropertyError(strings.Join(segs, "/"), "grouping property has no expression")
		}
		e, err := b.bind(gp.Expression)
		if err != nil {
			return nil, err
		}
		t := e.Type()
		if t.Kind() == edm.KindCollection || t.IsStructured() {
			return nil, NewTypeMismatchError(semantic.Format(gp.Expression), "cannot group by %s", t.AsNonNullable())
		}
		e = expr.EliminateGuards(e)
		prog, err := expr.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile grouping key: %w", err)
		}
		keys = append(keys, &GroupKey{Path: strings.Join(segs, "/"), Segments: segs, Expr: e, program: prog})
	}
	return keys, nil
}

func (b *binder) bindAggregate(group *expr.Parameter, a *semantic.AggregateExpression) (*AggregateValue, error) {
	if a.Alias == "" {
		return nil, NewUnresolvedPropertyError(a.Method.String(), "aggregate has no alias")
	}
	param := b.scopes[0].param
	out := &expr.Aggregate{Source: group, Param: param}

	if a.Method == semantic.VirtualPropertyCount {
		out.Method = expr.AggregateCount
		out.Param = nil
		out.T = edm.PrimitiveRef(edm.Int64, false)
		return newAggregateValue(a.Alias, out)
	}
	if a.Expression == nil {
		return nil, NewUnresolvedPropertyError(a.Alias, "aggregate has no expression")
	}
	sel, err := b.bind(a.Expression)
	if err != nil {
		return nil, err
	}
	construct := semantic.Format(a.Expression)
	if sel.Type().Kind() == edm.KindUntyped && a.Method != semantic.CountDistinct {
		if sel, err = b.convertTo(sel, edm.PrimitiveRef(edm.Decimal, true), construct); err != nil {
			return nil, err
		}
	}
	out.Selector = expr.EliminateGuards(sel)
	k := sel.Type().PrimitiveKind()
	if sel.Type().Enum() != nil {
		k = edm.Int64
	}
	unsupported := func(method string) error {
		return NewFunctionNotSupportedError(method, sel.Type().AsNonNullable().String())
	}

	switch a.Method {
	case semantic.Sum:
		out.Method = expr.AggregateSum
		switch {
		case k.IsIntegral():
			out.T = edm.PrimitiveRef(edm.Int64, false)
		case k == edm.Decimal:
			out.T = edm.PrimitiveRef(edm.Decimal, false)
		case k.IsFloating():
			out.T = edm.PrimitiveRef(edm.Double, false)
		default:
			return nil, unsupported("sum")
		}
	case semantic.Average:
		out.Method = expr.AggregateAverage
		switch {
		case k.IsIntegral() || k.IsFloating():
			out.T = edm.PrimitiveRef(edm.Double, true)
		case k == edm.Decimal:
			out.T = edm.PrimitiveRef(edm.Decimal, true)
		default:
			return nil, unsupported("average")
		}
	case semantic.Min, semantic.Max:
		out.Method = expr.AggregateMin
		if a.Method == semantic.Max {
			out.Method = expr.AggregateMax
		}
		if k == 0 || k.IsGeography() || k == edm.Binary {
			return nil, unsupported(a.Method.String())
		}
		out.T = sel.Type().AsNullable()
	case semantic.CountDistinct:
		out.Method = expr.AggregateCountDistinct
		out.T = edm.PrimitiveRef(edm.Int64, false)
	case semantic.Custom:
		fn, ok := b.settings.Functions.Aggregate(a.MethodLabel, k)
		if !ok {
			return nil, unsupported(a.MethodLabel)
		}
		out.Method = expr.AggregateCustom
		out.Custom = fn
		out.T = fn.Return
	default:
		return nil, NewUnsupportedError(b.name, "aggregation method "+a.Method.String())
	}
	return newAggregateValue(a.Alias, out)
}

func newAggregateValue(alias string, e *expr.Aggregate) (*AggregateValue, error) {
	prog, err := expr.Compile(e)
	if err != nil {
		return nil, fmt.Errorf("compile aggregate %s: %w", alias, err)
	}
	return &AggregateValue{Alias: alias, Expr: e, program: prog}, nil
}

// GroupKey is one grouping property.
type GroupKey struct {
	// Path is the slash-joined Segments, the key's name on grouped rows.
	Path     string
	Segments []string
	Expr     expr.Expr

	program *expr.Program
}

// AggregateValue is one "expression with method as alias" over a group.
type AggregateValue struct {
	Alias string
	Expr  *expr.Aggregate

	program *expr.Program
}

// GroupStage is a groupby or aggregate transformation. Grouped is false for
// a bare aggregate, which reduces all rows to one.
type GroupStage struct {
	Grouped bool

	// Param is the row parameter of key selectors (slot 0).
	Param *expr.Parameter
	Keys  []*GroupKey

	// Group is the group parameter of aggregates (slot 0); their item
	// parameter is slot 1.
	Group      *expr.Parameter
	Aggregates []*AggregateValue

	// Index describes the rows this stage produces.
	Index *FlattenedIndex
}

func (*GroupStage) stage() {}

func (g *GroupStage) String() string {
	aggs := make([]string, len(g.Aggregates))
	for i, a := range g.Aggregates {
		aggs[i] = a.Expr.String() + " as " + a.Alias
	}
	if !g.Grouped {
		return "aggregate(" + strings.Join(aggs, ", ") + ")"
	}
	keys := make([]string, len(g.Keys))
	for i, k := range g.Keys {
		keys[i] = k.Path
	}
	s := "groupby((" + strings.Join(keys, ", ") + ")"
	if len(aggs) > 0 {
		s += ", aggregate(" + strings.Join(aggs, ", ") + ")"
	}
	return s + ")"
}

// KeyOf evaluates the grouping key of row.
func (g *GroupStage) KeyOf(row any) ([]any, error) {
	out := make([]any, len(g.Keys))
	for i, k := range g.Keys {
		v, err := k.program.Eval(row)
		if err != nil {
			return nil, fmt.Errorf("grouping key %s: %w", k.Path, err)
		}
		out[i] = v
	}
	return out, nil
}

// Project builds the result row of one group.
func (g *GroupStage) Project(key []any, group []any) (*record.GroupByWrapper, error) {
	w := &record.GroupByWrapper{}
	if len(g.Keys) > 0 {
		w.GroupBy = nestKeys(g.Keys, key)
	}
	if len(g.Aggregates) > 0 {
		names := make([]string, len(g.Aggregates))
		values := make([]any, len(g.Aggregates))
		for i, a := range g.Aggregates {
			v, err := a.program.Eval(any(group))
			if err != nil {
				return nil, fmt.Errorf("aggregate %s: %w", a.Alias, err)
			}
			names[i], values[i] = a.Alias, v
		}
		w.Values = record.Chain(names, values)
	}
	return w, nil
}

// nestKeys builds the key chain, nesting keys that share a leading segment.
func nestKeys(keys []*GroupKey, values []any) *record.Properties {
	type entry struct {
		segs  []string
		value any
	}
	var build func(entries []entry) *record.Properties
	build = func(entries []entry) *record.Properties {
		var names []string
		var vals []any
		pos := make(map[string]int)
		var nested [][]entry
		for _, e := range entries {
			head := e.segs[0]
			if len(e.segs) == 1 {
				names = append(names, head)
				vals = append(vals, e.value)
				nested = append(nested, nil)
				continue
			}
			i, ok := pos[head]
			if !ok {
				i = len(names)
				pos[head] = i
				names = append(names, head)
				vals = append(vals, nil)
				nested = append(nested, nil)
			}
			nested[i] = append(nested[i], entry{segs: e.segs[1:], value: e.value})
		}
		for i, inner := range nested {
			if inner != nil {
				vals[i] = build(inner)
			}
		}
		return record.Chain(names, vals)
	}

	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{segs: k.Segments, value: values[i]}
	}
	return build(entries)
}

// Run groups rows by key, keeping groups in order of first occurrence.
func (g *GroupStage) Run(rows []any) ([]any, error) {
	if !g.Grouped {
		if len(rows) == 0 {
			return nil, nil
		}
		w, err := g.Project(nil, rows)
		if err != nil {
			return nil, err
		}
		return []any{w}, nil
	}

	type bucket struct {
		key  []any
		rows []any
	}
	var order []*bucket
	byKey := make(map[string]*bucket)
	for _, row := range rows {
		key, err := g.KeyOf(row)
		if err != nil {
			return nil, err
		}
		id := record.Key(key...)
		bk, ok := byKey[id]
		if !ok {
			bk = &bucket{key: key}
			byKey[id] = bk
			order = append(order, bk)
		}
		bk.rows = append(bk.rows, row)
	}

	out := make([]any, 0, len(order))
	for _, bk := range order {
		w, err := g.Project(bk.key, bk.rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// FilterStage is filter(...) inside $apply.
type FilterStage struct {
	Predicate *Predicate
}

func (*FilterStage) stage() {}

func (f *FilterStage) String() string { return "filter(" + f.Predicate.String() + ")" }

// Run keeps the rows that match.
func (f *FilterStage) Run(rows []any) ([]any, error) {
	var out []any
	for _, row := range rows {
		ok, err := f.Predicate.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}
