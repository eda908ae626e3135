package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/query"
	"github.com/roach88/querybind/internal/semantic"
)

// Compiled is a scenario with its model loaded and every query built into
// semantic clauses.
type Compiled struct {
	Scenario *Scenario
	Model    *edm.Model
	Entity   *edm.StructuredType
	Rows     []any
	Queries  []CompiledQuery
}

// CompiledQuery is one query's clauses.
type CompiledQuery struct {
	Name    string
	Options query.Options
	Expect  *Expect
}

// Compile loads the scenario model and builds the semantic clauses of
// every query.
func Compile(s *Scenario) (*Compiled, error) {
	src, name := []byte(s.Model), s.Name+".cue"
	if s.ModelFile != "" {
		name = s.ModelFile
		if !filepath.IsAbs(name) && s.dir != "" {
			name = filepath.Join(s.dir, name)
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read model: %w", err)
		}
		src = data
	}
	model, err := edm.LoadCUE(src, name)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	entity, ok := model.StructuredType(s.Entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not a structured type of the model", s.Entity)
	}

	c := &Compiled{Scenario: s, Model: model, Entity: entity, Rows: make([]any, len(s.Data))}
	for i, row := range s.Data {
		c.Rows[i] = row
	}
	for _, q := range s.Queries {
		opts, err := compileQuery(model, entity, q)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Name, err)
		}
		c.Queries = append(c.Queries, CompiledQuery{Name: q.Name, Options: opts, Expect: q.Expect})
	}
	return c, nil
}

// ApplySettings applies the scenario overrides to base.
func (s *Scenario) ApplySettings(base binder.Settings) (binder.Settings, error) {
	d := s.Settings
	if d == nil {
		return base, nil
	}
	if d.NullPropagation != "" {
		np, err := binder.ParseNullPropagation(d.NullPropagation)
		if err != nil {
			return base, err
		}
		base.HandleNullPropagation = np
	}
	if d.TimeZone != "" {
		loc, err := time.LoadLocation(d.TimeZone)
		if err != nil {
			return base, fmt.Errorf("timezone: %w", err)
		}
		base.TimeZone = loc
	}
	if d.Parameterize {
		base.ParameterizeConstants = true
	}
	if d.PageSize != 0 {
		base.PageSize = d.PageSize
	}
	if d.MaxTop != 0 {
		base.MaxTop = d.MaxTop
	}
	if d.MaxExpansionDepth != nil {
		base.MaxExpansionDepth = *d.MaxExpansionDepth
	}
	return base, nil
}

func compileQuery(model *edm.Model, entity *edm.StructuredType, q Query) (query.Options, error) {
	b := newBuilder(model, entity)
	opts := query.Options{Skip: q.Skip, Top: q.Top, Count: q.Count}
	var err error

	if len(q.Apply) > 0 {
		if opts.Apply, err = b.apply(q.Apply); err != nil {
			return opts, fmt.Errorf("apply: %w", err)
		}
	}
	if q.Filter != nil {
		if opts.Filter, err = b.filter(q.Filter); err != nil {
			return opts, fmt.Errorf("filter: %w", err)
		}
	}
	if len(q.OrderBy) > 0 {
		if opts.OrderBy, err = b.orderBy(q.OrderBy); err != nil {
			return opts, fmt.Errorf("orderby: %w", err)
		}
	}
	if len(q.Select) > 0 || len(q.Expand) > 0 {
		if opts.SelectExpand, err = b.selectExpand(entity, q.Select, q.Expand); err != nil {
			return opts, fmt.Errorf("select/expand: %w", err)
		}
	}
	return opts, nil
}

// builder turns scenario nodes into semantic nodes over one element type.
type builder struct {
	model *edm.Model
	it    *semantic.RangeVariable
	vars  map[string]*semantic.RangeVariable

	// aggregated is set once an $apply stage reshaped the rows; paths then
	// name fields of the aggregated rows.
	aggregated bool
}

func newBuilder(model *edm.Model, element *edm.StructuredType) *builder {
	return &builder{model: model, it: semantic.It(element), vars: map[string]*semantic.RangeVariable{}}
}

func (b *builder) filter(n *Node) (*semantic.FilterClause, error) {
	e, err := b.single(n)
	if err != nil {
		return nil, err
	}
	return &semantic.FilterClause{Expression: e, RangeVariable: b.it}, nil
}

func (b *builder) orderBy(keys []OrderKey) (*semantic.OrderByClause, error) {
	var head, tail *semantic.OrderByClause
	for i := range keys {
		e, err := b.single(&keys[i].Node)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		c := &semantic.OrderByClause{Expression: e, RangeVariable: b.it}
		if keys[i].Desc {
			c.Direction = semantic.Descending
		}
		if head == nil {
			head = c
		} else {
			tail.ThenBy = c
		}
		tail = c
	}
	return head, nil
}

func (b *builder) single(n *Node) (semantic.SingleValueNode, error) {
	node, err := b.node(n)
	if err != nil {
		return nil, err
	}
	sv, ok := node.(semantic.SingleValueNode)
	if !ok {
		return nil, fmt.Errorf("%s is a collection where a single value is expected", semantic.Format(node))
	}
	return sv, nil
}

func (b *builder) collection(n *Node) (semantic.CollectionNode, error) {
	node, err := b.node(n)
	if err != nil {
		return nil, err
	}
	c, ok := node.(semantic.CollectionNode)
	if !ok {
		return nil, fmt.Errorf("%s is not a collection", semantic.Format(node))
	}
	return c, nil
}

func (b *builder) node(n *Node) (semantic.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("missing expression")
	}
	switch {
	case n.Path != "":
		return b.path(n.Path, n.Of)
	case n.Var != "":
		v, ok := b.vars[n.Var]
		if !ok {
			return nil, fmt.Errorf("variable %q is not in scope", n.Var)
		}
		return semantic.Ref(v), nil
	case n.Null:
		return semantic.Null(), nil
	case n.Const != nil:
		return b.constant(n)
	case n.TypeName != "":
		return semantic.TypeName(n.TypeName), nil
	case n.Op != "":
		op, ok := semantic.ParseBinaryOperator(n.Op)
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", n.Op)
		}
		l, err := b.single(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.single(n.Right)
		if err != nil {
			return nil, err
		}
		return semantic.Binary(op, l, r), nil
	case n.Not != nil:
		operand, err := b.single(n.Not)
		if err != nil {
			return nil, err
		}
		return &semantic.UnaryOperatorNode{Operator: semantic.Not, Operand: operand}, nil
	case n.Neg != nil:
		operand, err := b.single(n.Neg)
		if err != nil {
			return nil, err
		}
		return &semantic.UnaryOperatorNode{Operator: semantic.Negate, Operand: operand}, nil
	case n.Call != "":
		args := make([]semantic.Node, len(n.Args))
		for i, a := range n.Args {
			var err error
			if args[i], err = b.node(a); err != nil {
				return nil, err
			}
		}
		return semantic.Call(n.Call, args...), nil
	case n.In != nil:
		return b.in(n)
	case n.Any != nil:
		src, v, body, err := b.lambda(n.Any)
		if err != nil {
			return nil, err
		}
		return &semantic.AnyNode{Source: src, Variable: v, Body: body}, nil
	case n.All != nil:
		src, v, body, err := b.lambda(n.All)
		if err != nil {
			return nil, err
		}
		return &semantic.AllNode{Source: src, Variable: v, Body: body}, nil
	case n.Count != nil:
		return b.count(n.Count)
	}
	return nil, fmt.Errorf("empty expression")
}

func (b *builder) path(path, of string) (semantic.Node, error) {
	var src semantic.SingleValueNode = semantic.Ref(b.it)
	if of != "" {
		v, ok := b.vars[of]
		if !ok {
			return nil, fmt.Errorf("variable %q is not in scope", of)
		}
		src = semantic.Ref(v)
	} else if b.aggregated {
		// Aggregated rows carry no declared properties.
		for _, seg := range strings.Split(path, "/") {
			src = &semantic.SingleValueOpenPropertyAccessNode{Source: src, Name: seg}
		}
		return src, nil
	}
	return semantic.ResolvePath(b.model, src, path)
}

func (b *builder) constant(n *Node) (*semantic.ConstantNode, error) {
	if n.Type == "" {
		return semantic.Constant(n.Const), nil
	}
	t, ok := b.model.FindType(strings.TrimSuffix(n.Type, "?"))
	if !ok {
		return nil, fmt.Errorf("unknown type %q", n.Type)
	}
	ref := edm.NewTypeRef(t, strings.HasSuffix(n.Type, "?"))
	v, err := edm.Normalize(n.Const, ref)
	if err != nil {
		return nil, fmt.Errorf("constant %v: %w", n.Const, err)
	}
	return semantic.TypedConstant(v, ref), nil
}

func (b *builder) in(n *Node) (semantic.Node, error) {
	left, err := b.single(n.In)
	if err != nil {
		return nil, err
	}
	if n.Right != nil {
		right, err := b.collection(n.Right)
		if err != nil {
			return nil, err
		}
		return &semantic.InNode{Left: left, Right: right}, nil
	}
	list := &semantic.CollectionConstantNode{Items: make([]*semantic.ConstantNode, len(n.List))}
	for i, it := range n.List {
		c, err := b.node(it)
		if err != nil {
			return nil, err
		}
		cn, ok := c.(*semantic.ConstantNode)
		if !ok {
			return nil, fmt.Errorf("in list item %d is not a literal", i)
		}
		list.Items[i] = cn
	}
	return &semantic.InNode{Left: left, Right: list}, nil
}

// scoped runs fn with v bound to name.
func (b *builder) scoped(name string, v *semantic.RangeVariable, fn func() error) error {
	prev, shadowed := b.vars[name]
	b.vars[name] = v
	defer func() {
		if shadowed {
			b.vars[name] = prev
		} else {
			delete(b.vars, name)
		}
	}()
	return fn()
}

func (b *builder) lambda(l *Lambda) (semantic.CollectionNode, *semantic.RangeVariable, semantic.SingleValueNode, error) {
	src, err := b.collection(l.Source)
	if err != nil {
		return nil, nil, nil, err
	}
	if l.Body == nil {
		return src, nil, nil, nil
	}
	v := &semantic.RangeVariable{Name: l.Var, Type: src.ItemType()}
	var body semantic.SingleValueNode
	err = b.scoped(l.Var, v, func() error {
		var err error
		body, err = b.single(l.Body)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return src, v, body, nil
}

func (b *builder) count(c *CountOf) (semantic.Node, error) {
	src, err := b.collection(c.Source)
	if err != nil {
		return nil, err
	}
	node := &semantic.CountNode{Source: src}
	if c.Filter == nil {
		return node, nil
	}
	v := &semantic.RangeVariable{Name: c.Var, Type: src.ItemType()}
	err = b.scoped(c.Var, v, func() error {
		e, err := b.single(c.Filter)
		if err != nil {
			return err
		}
		node.Filter = &semantic.FilterClause{Expression: e, RangeVariable: v}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (b *builder) apply(stages []Transformation) (*semantic.ApplyClause, error) {
	clause := &semantic.ApplyClause{}
	for i, t := range stages {
		var (
			tr  semantic.Transformation
			err error
		)
		switch {
		case t.Filter != nil:
			var f *semantic.FilterClause
			if f, err = b.filter(t.Filter); err == nil {
				tr = &semantic.FilterTransformation{Filter: f}
			}
		case t.GroupBy != nil:
			tr, err = b.groupBy(t)
		default:
			var agg *semantic.AggregateTransformation
			if agg, err = b.aggregate(t.Aggregate); err == nil {
				tr = agg
			}
		}
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		clause.Transformations = append(clause.Transformations, tr)
		if t.Filter == nil {
			b.aggregated = true
		}
	}
	return clause, nil
}

func (b *builder) groupBy(t Transformation) (*semantic.GroupByTransformation, error) {
	g := &semantic.GroupByTransformation{}
	for _, p := range t.GroupBy {
		e, err := b.single(&Node{Path: p})
		if err != nil {
			return nil, err
		}
		level := &g.GroupingProperties
		segs := strings.Split(p, "/")
		for i, seg := range segs {
			var found *semantic.GroupByPropertyNode
			for _, n := range *level {
				if n.Name == seg {
					found = n
					break
				}
			}
			if found == nil {
				found = &semantic.GroupByPropertyNode{Name: seg}
				*level = append(*level, found)
			}
			if i == len(segs)-1 {
				found.Expression = e
			} else {
				level = &found.Children
			}
		}
	}
	if len(t.Aggregate) > 0 {
		agg, err := b.aggregate(t.Aggregate)
		if err != nil {
			return nil, err
		}
		g.Child = agg
	}
	return g, nil
}

func (b *builder) aggregate(items []Aggregate) (*semantic.AggregateTransformation, error) {
	t := &semantic.AggregateTransformation{}
	for _, a := range items {
		ae := &semantic.AggregateExpression{Method: semantic.ParseAggregationMethod(a.With), Alias: a.As}
		if ae.Method == semantic.Custom {
			ae.MethodLabel = a.With
		}
		if ae.Method != semantic.VirtualPropertyCount {
			e, err := b.single(a.Expr)
			if err != nil {
				return nil, fmt.Errorf("aggregate %s: %w", a.As, err)
			}
			ae.Expression = e
		}
		t.Expressions = append(t.Expressions, ae)
	}
	return t, nil
}

func (b *builder) selectExpand(t *edm.StructuredType, sel []string, exp []Expand) (*semantic.SelectExpandClause, error) {
	clause := &semantic.SelectExpandClause{}
	for _, s := range sel {
		item, err := selectPath(t, strings.Split(s, "/"))
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", s, err)
		}
		clause.Items = append(clause.Items, item)
	}
	for _, e := range exp {
		item, err := b.expand(t, e)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", e.Path, err)
		}
		clause.Items = append(clause.Items, item)
	}
	return clause, nil
}

func selectPath(t *edm.StructuredType, segs []string) (semantic.SelectItem, error) {
	if segs[0] == "*" && len(segs) == 1 {
		return &semantic.WildcardSelectItem{}, nil
	}
	p, ok := t.Property(segs[0])
	if !ok {
		if t.IsOpen() && len(segs) == 1 {
			return &semantic.PathSelectItem{DynamicName: segs[0]}, nil
		}
		return nil, fmt.Errorf("%s has no property %q", t.FullName(), segs[0])
	}
	item := &semantic.PathSelectItem{Property: p}
	if len(segs) == 1 {
		return item, nil
	}
	inner := p.ElementType().Structured()
	if inner == nil || p.Navigation {
		return nil, fmt.Errorf("%s is not a complex property", p.Name)
	}
	nested, err := selectPath(inner, segs[1:])
	if err != nil {
		return nil, err
	}
	item.SelectAndExpand = &semantic.SelectExpandClause{Items: []semantic.SelectItem{nested}}
	return item, nil
}

func (b *builder) expand(t *edm.StructuredType, e Expand) (*semantic.ExpandedNavigationSelectItem, error) {
	p, ok := t.Property(e.Path)
	if !ok || !p.Navigation {
		return nil, fmt.Errorf("%s has no navigation property %q", t.FullName(), e.Path)
	}
	target := p.ElementType().Structured()
	item := &semantic.ExpandedNavigationSelectItem{Navigation: p, Skip: e.Skip, Top: e.Top, Count: e.Count}
	if e.Cast != "" {
		cast, ok := b.model.StructuredType(e.Cast)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", e.Cast)
		}
		item.Cast, target = cast, cast
	}

	nb := newBuilder(b.model, target)
	var err error
	if e.Filter != nil {
		if item.Filter, err = nb.filter(e.Filter); err != nil {
			return nil, err
		}
	}
	if len(e.OrderBy) > 0 {
		if item.OrderBy, err = nb.orderBy(e.OrderBy); err != nil {
			return nil, err
		}
	}
	if len(e.Select) > 0 || len(e.Expand) > 0 {
		if item.SelectAndExpand, err = nb.selectExpand(target, e.Select, e.Expand); err != nil {
			return nil, err
		}
	}
	return item, nil
}
