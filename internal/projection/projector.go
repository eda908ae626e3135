package projection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/record"
	"github.com/roach88/querybind/internal/semantic"
)

// Projector applies a bound select/expand clause to instances of one type.
// It validates the clause and binds nested filters and orderings once, so
// Project only reads values.
type Projector struct {
	model *edm.Model
	root  *plan
	log   *slog.Logger
}

type plan struct {
	declared    *edm.StructuredType
	allSelected bool
	selects     []*selectPlan
	expands     []*expandPlan
}

type selectPlan struct {
	prop    *edm.Property
	dynamic string
	nested  *plan
}

type expandPlan struct {
	prop     *edm.Property
	path     string
	cast     *edm.StructuredType
	filter   *binder.Predicate
	order    *binder.Ordering
	skip     int
	top      int
	pageSize int
	count    bool
	nested   *plan
}

// NewProjector validates clause against the limits in settings and prepares
// it for instances of elementType. A nil clause selects everything.
func NewProjector(model *edm.Model, clause *semantic.SelectExpandClause, elementType *edm.StructuredType, settings binder.Settings) (*Projector, error) {
	if model == nil || elementType == nil {
		return nil, fmt.Errorf("select/expand needs a model and an element type")
	}
	start := time.Now()
	log := settings.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("clause", "selectexpand", "element", elementType.FullName())

	c := &compiler{model: model, settings: settings}
	root, err := c.plan(clause, elementType, 0, "")
	if err != nil {
		log.Warn("select/expand rejected", "error", err)
		return nil, err
	}
	log.Debug("bound select/expand",
		"selects", len(root.selects),
		"expands", len(root.expands),
		"duration", time.Since(start))
	return &Projector{model: model, root: root, log: log}, nil
}

type compiler struct {
	model    *edm.Model
	settings binder.Settings
}

func (c *compiler) plan(clause *semantic.SelectExpandClause, t *edm.StructuredType, depth int, prefix string) (*plan, error) {
	p := &plan{declared: t, allSelected: clause.AllSelected()}
	if clause == nil {
		return p, nil
	}
	for _, item := range clause.Items {
		switch item := item.(type) {
		case *semantic.WildcardSelectItem:
		case *semantic.PathSelectItem:
			sp, err := c.selectItem(item, depth, prefix)
			if err != nil {
				return nil, err
			}
			p.selects = append(p.selects, sp)
		case *semantic.ExpandedNavigationSelectItem:
			ep, err := c.expandItem(item, depth+1, join(prefix, item.Navigation.Name))
			if err != nil {
				return nil, err
			}
			p.expands = append(p.expands, ep)
		default:
			return nil, binder.NewUnsupportedError("selectexpand", fmt.Sprintf("%T", item))
		}
	}
	return p, nil
}

func (c *compiler) selectItem(item *semantic.PathSelectItem, depth int, prefix string) (*selectPlan, error) {
	if item.Property == nil {
		if item.DynamicName == "" {
			return nil, binder.NewUnresolvedPropertyError(prefix, "select item names no property")
		}
		return &selectPlan{dynamic: item.DynamicName}, nil
	}
	sp := &selectPlan{prop: item.Property}
	if item.SelectAndExpand != nil {
		st := item.Property.ElementType().Structured()
		if st == nil {
			return nil, binder.NewTypeMismatchError(item.Property.Name, "nested select on %s, which is not structured", item.Property.Type)
		}
		nested, err := c.plan(item.SelectAndExpand, st, depth, join(prefix, item.Property.Name))
		if err != nil {
			return nil, err
		}
		sp.nested = nested
	}
	return sp, nil
}

func (c *compiler) expandItem(item *semantic.ExpandedNavigationSelectItem, depth int, path string) (*expandPlan, error) {
	if limit := c.settings.MaxExpansionDepth; limit > 0 && depth > limit {
		return nil, newDepthError(path, limit, depth)
	}
	prop := item.Navigation
	target := prop.ElementType().Structured()
	if target == nil {
		return nil, binder.NewTypeMismatchError(path, "cannot expand %s", prop.Type)
	}
	ep := &expandPlan{prop: prop, path: path, top: -1, count: item.Count}
	if item.Cast != nil {
		if !target.IsAssignableFrom(item.Cast) {
			return nil, binder.NewTypeMismatchError(path, "%s does not derive from %s", item.Cast.FullName(), target.FullName())
		}
		ep.cast = item.Cast
		target = item.Cast
	}

	if item.Top != nil {
		if *item.Top < 0 {
			return nil, newPageOptionError(path, "$top", *item.Top)
		}
		if limit := c.settings.MaxTop; limit > 0 && *item.Top > limit {
			return nil, newPageSizeError(path, limit, *item.Top)
		}
		ep.top = *item.Top
	}
	if item.Skip != nil {
		if *item.Skip < 0 {
			return nil, newPageOptionError(path, "$skip", *item.Skip)
		}
		ep.skip = *item.Skip
	}
	ep.pageSize = c.settings.PageSize
	if r := c.model.Restrictions(prop); r.PageSize > 0 {
		ep.pageSize = r.PageSize
	}

	if !prop.IsCollection() && (item.Filter != nil || item.OrderBy != nil || item.Top != nil || item.Skip != nil) {
		return nil, binder.NewTypeMismatchError(path, "collection options on a single-valued navigation")
	}
	var err error
	if item.Filter != nil {
		if ep.filter, err = binder.BindFilter(c.model, item.Filter, target, c.settings); err != nil {
			return nil, fmt.Errorf("expand %s: %w", path, err)
		}
	}
	if item.OrderBy != nil {
		if ep.order, err = binder.BindOrderBy(c.model, item.OrderBy, target, c.settings); err != nil {
			return nil, fmt.Errorf("expand %s: %w", path, err)
		}
	}
	if ep.nested, err = c.plan(item.SelectAndExpand, target, depth, path); err != nil {
		return nil, err
	}
	return ep, nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Project builds the wrapper of one instance.
func (p *Projector) Project(instance any) (*SelectExpandWrapper, error) {
	return p.project(p.root, instance)
}

// ProjectAll projects every instance, keeping their order.
func (p *Projector) ProjectAll(instances []any) ([]*SelectExpandWrapper, error) {
	out := make([]*SelectExpandWrapper, len(instances))
	for i, inst := range instances {
		w, err := p.Project(inst)
		if err != nil {
			return nil, fmt.Errorf("project element %d: %w", i, err)
		}
		out[i] = w
	}
	p.log.Debug("projected", "count", len(out))
	return out, nil
}

func (p *Projector) project(pl *plan, instance any) (*SelectExpandWrapper, error) {
	w := &SelectExpandWrapper{Instance: instance, actual: pl.declared, allSelected: pl.allSelected}
	if actual, ok := p.model.TypeOfInstance(instance); ok && actual != pl.declared {
		w.TypeName = actual.FullName()
		w.actual = actual
	}

	var names []string
	var values []any
	for _, sp := range pl.selects {
		v, err := p.selectValue(sp, w.actual, instance)
		if err != nil {
			return nil, err
		}
		names = append(names, sp.name())
		values = append(values, v)
	}
	for _, ep := range pl.expands {
		v, err := p.expand(ep, instance)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", ep.path, err)
		}
		names = append(names, ep.prop.Name)
		values = append(values, v)
	}
	w.Container = record.Chain(names, values)
	return w, nil
}

func (sp *selectPlan) name() string {
	if sp.prop == nil {
		return sp.dynamic
	}
	return sp.prop.Name
}

func (p *Projector) selectValue(sp *selectPlan, t *edm.StructuredType, instance any) (any, error) {
	if sp.prop == nil {
		return dynamicProperties(t, instance)[sp.dynamic], nil
	}
	v, err := sp.prop.Get(instance)
	if err != nil || v == nil || sp.nested == nil {
		return v, err
	}
	if items, ok := v.([]any); ok {
		out := make([]any, len(items))
		for i, it := range items {
			if it == nil {
				continue
			}
			if out[i], err = p.project(sp.nested, it); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return p.project(sp.nested, v)
}

func (p *Projector) expand(ep *expandPlan, instance any) (any, error) {
	v, err := ep.prop.Get(instance)
	if err != nil {
		return nil, err
	}
	if !ep.prop.IsCollection() {
		if v == nil || !p.isOf(v, ep.cast) {
			return nil, nil
		}
		return p.project(ep.nested, v)
	}

	items, _ := v.([]any)
	var kept []any
	for _, it := range items {
		if it == nil || !p.isOf(it, ep.cast) {
			continue
		}
		if ep.filter != nil {
			ok, err := ep.filter.Match(it)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		kept = append(kept, it)
	}
	if ep.order != nil {
		if err := ep.order.Sort(kept); err != nil {
			return nil, err
		}
	}

	out := &ExpandedCollection{}
	if ep.count {
		n := int64(len(kept))
		out.Count = &n
	}
	kept = kept[min(ep.skip, len(kept)):]
	if ep.top >= 0 && ep.top < len(kept) {
		kept = kept[:ep.top]
	}
	if ep.pageSize > 0 && len(kept) > ep.pageSize {
		kept = kept[:ep.pageSize]
		out.Truncated = true
	}
	out.Items = make([]*SelectExpandWrapper, len(kept))
	for i, it := range kept {
		if out.Items[i], err = p.project(ep.nested, it); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Projector) isOf(instance any, t *edm.StructuredType) bool {
	if t == nil {
		return true
	}
	actual, ok := p.model.TypeOfInstance(instance)
	return ok && t.IsAssignableFrom(actual)
}
