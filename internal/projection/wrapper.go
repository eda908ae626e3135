package projection

import (
	"sort"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/record"
)

// SelectExpandWrapper is one projected instance. Container holds the values
// that were explicitly selected or expanded; when the clause selects every
// structural property the wrapper falls back to reading Instance.
type SelectExpandWrapper struct {
	// Instance is the projected instance.
	Instance any

	// TypeName is the full name of the instance's type when it differs
	// from the declared type, as when an expansion reaches a derived type.
	TypeName string

	// Container holds selected and expanded values in clause order.
	// Expanded single navigations are *SelectExpandWrapper (or nil) and
	// expanded collections are *ExpandedCollection.
	Container *record.Properties

	// actual is the type used for fallback reads: the instance's own type
	// when known, the declared type otherwise.
	actual      *edm.StructuredType
	allSelected bool
}

// ExpandedCollection is the value of an expanded collection navigation.
type ExpandedCollection struct {
	Items []*SelectExpandWrapper

	// Truncated is set when the page size cut the collection short.
	Truncated bool

	// Count is the number of items matching the nested filter, before
	// $skip, $top and the page size. It is set when $count was requested.
	Count *int64
}

// TryGetPropertyValue returns the value of a selected, expanded or (when
// all are selected) structural or dynamic property.
func (w *SelectExpandWrapper) TryGetPropertyValue(name string) (any, bool) {
	if v, ok := w.Container.Lookup(name); ok {
		return v, true
	}
	if !w.allSelected || w.actual == nil {
		return nil, false
	}
	if p, ok := w.actual.Property(name); ok {
		if p.Navigation {
			return nil, false
		}
		v, err := p.Get(w.Instance)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	dyn := dynamicProperties(w.actual, w.Instance)
	v, ok := dyn[name]
	return v, ok
}

// Names returns the names of the properties the wrapper exposes: structural
// and dynamic properties first when all are selected, then the container
// entries in clause order.
func (w *SelectExpandWrapper) Names() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if w.allSelected && w.actual != nil {
		for _, p := range w.actual.StructuralProperties() {
			add(p.Name)
		}
		dyn := dynamicProperties(w.actual, w.Instance)
		keys := make([]string, 0, len(dyn))
		for k := range dyn {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k)
		}
	}
	for _, n := range w.Container.Names() {
		add(n)
	}
	return names
}

// Len returns the number of exposed properties.
func (w *SelectExpandWrapper) Len() int { return len(w.Names()) }

// ToMap renders the wrapper as nested maps. Expanded collections become
// slices; a requested count is reported under "<name>@odata.count".
func (w *SelectExpandWrapper) ToMap() map[string]any {
	if w == nil {
		return nil
	}
	out := make(map[string]any)
	for _, n := range w.Names() {
		v, _ := w.TryGetPropertyValue(n)
		if c, ok := v.(*ExpandedCollection); ok && c.Count != nil {
			out[n+"@odata.count"] = *c.Count
		}
		out[n] = plain(v)
	}
	if w.TypeName != "" {
		out[edm.TypeAnnotation] = "#" + w.TypeName
	}
	return out
}

func plain(v any) any {
	switch v := v.(type) {
	case *SelectExpandWrapper:
		if v == nil {
			return nil
		}
		return v.ToMap()
	case *ExpandedCollection:
		items := make([]any, len(v.Items))
		for i, it := range v.Items {
			items[i] = it.ToMap()
		}
		return items
	case []any:
		out := make([]any, len(v))
		for i, it := range v {
			out[i] = plain(it)
		}
		return out
	}
	return v
}

// dynamicProperties reads the dynamic container of an open-type instance.
func dynamicProperties(t *edm.StructuredType, instance any) map[string]any {
	acc := t.DynamicAccessor()
	if acc == nil {
		return nil
	}
	raw, ok := acc.Get(instance)
	if !ok || edm.IsNil(raw) {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = edm.NormalizeUntyped(v)
	}
	return out
}
