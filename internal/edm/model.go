package edm

import (
	"fmt"
	"reflect"
	"strings"
)

// TypeAnnotation is the key a map-backed row uses to name its own type,
// which lets collections of a base type carry derived-type rows.
const TypeAnnotation = "@odata.type"

// Model is a read-only registry of the types the binder can resolve.
type Model struct {
	Namespace string

	types    map[string]Type
	byGoType map[reflect.Type]Type
}

// NewModel creates an empty model.
func NewModel(namespace string) *Model {
	return &Model{
		Namespace: namespace,
		types:     make(map[string]Type),
		byGoType:  make(map[reflect.Type]Type),
	}
}

// AddType registers t under its full name.
func (m *Model) AddType(t Type) error {
	name := t.FullName()
	if _, exists := m.types[name]; exists {
		return fmt.Errorf("type %s already registered", name)
	}
	m.types[name] = t
	switch def := t.(type) {
	case *StructuredType:
		if def.GoType != nil {
			m.byGoType[def.GoType] = def
		}
	case *EnumType:
		if def.GoType != nil {
			m.byGoType[def.GoType] = def
		}
	}
	return nil
}

// FindType resolves a full type name. Primitive names (Edm.*) and
// Collection(...) names resolve without registration.
func (m *Model) FindType(name string) (Type, bool) {
	if inner, ok := strings.CutPrefix(name, "Collection("); ok && strings.HasSuffix(inner, ")") {
		elem, found := m.FindType(strings.TrimSuffix(inner, ")"))
		if !found {
			return nil, false
		}
		return CollectionOf(NewTypeRef(elem, true)), true
	}
	if p, ok := PrimitiveByName(name); ok {
		return p, true
	}
	if strings.EqualFold(name, untyped.FullName()) {
		return untyped, true
	}
	if t, ok := m.types[name]; ok {
		return t, true
	}
	if m.Namespace != "" && !strings.Contains(name, ".") {
		t, ok := m.types[m.Namespace+"."+name]
		return t, ok
	}
	return nil, false
}

// StructuredType resolves a full name to an entity or complex type.
func (m *Model) StructuredType(name string) (*StructuredType, bool) {
	t, ok := m.FindType(name)
	if !ok {
		return nil, false
	}
	s, ok := t.(*StructuredType)
	return s, ok
}

// Types returns all registered types ordered by name.
func (m *Model) Types() []Type {
	names := sortedTypeNames(m.types)
	out := make([]Type, len(names))
	for i, n := range names {
		out[i] = m.types[n]
	}
	return out
}

// TypeOfInstance returns the structured type of a concrete instance: the
// registered type of its Go type, or the type named by the row's
// TypeAnnotation for map-backed rows.
func (m *Model) TypeOfInstance(instance any) (*StructuredType, bool) {
	if row, ok := instance.(map[string]any); ok {
		name, _ := row[TypeAnnotation].(string)
		if name == "" {
			return nil, false
		}
		return m.StructuredType(strings.TrimPrefix(name, "#"))
	}
	t := reflect.TypeOf(instance)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, false
	}
	s, ok := m.byGoType[t].(*StructuredType)
	return s, ok
}

// Restrictions returns the query restrictions declared on p.
func (m *Model) Restrictions(p *Property) Restrictions {
	if p == nil {
		return Restrictions{}
	}
	return p.Restrictions
}
