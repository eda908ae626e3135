package edm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// TypeKind classifies a Type.
type TypeKind int

const (
	KindNone TypeKind = iota
	KindPrimitive
	KindEnum
	KindComplex
	KindEntity
	KindCollection
	KindUntyped
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "Primitive"
	case KindEnum:
		return "Enum"
	case KindComplex:
		return "Complex"
	case KindEntity:
		return "Entity"
	case KindCollection:
		return "Collection"
	case KindUntyped:
		return "Untyped"
	default:
		return "None"
	}
}

// Type is implemented by every type in the model.
type Type interface {
	Kind() TypeKind
	FullName() string
}

// TypeRef is a reference to a Type together with its nullability.
// The zero TypeRef (nil Definition) is the type of an untyped null literal.
type TypeRef struct {
	Definition Type
	Nullable   bool
}

// NewTypeRef returns a reference to t.
func NewTypeRef(t Type, nullable bool) TypeRef {
	return TypeRef{Definition: t, Nullable: nullable}
}

// Kind returns the kind of the referenced type, KindNone for the null type.
func (r TypeRef) Kind() TypeKind {
	if r.Definition == nil {
		return KindNone
	}
	return r.Definition.Kind()
}

// IsNullLiteral reports whether r is the type of an untyped null.
func (r TypeRef) IsNullLiteral() bool {
	return r.Definition == nil
}

// AsNullable returns r with Nullable set.
func (r TypeRef) AsNullable() TypeRef {
	r.Nullable = true
	return r
}

// AsNonNullable returns r with Nullable cleared.
func (r TypeRef) AsNonNullable() TypeRef {
	r.Nullable = false
	return r
}

// PrimitiveKind returns the primitive kind of r, or 0 when r is not primitive.
func (r TypeRef) PrimitiveKind() PrimitiveKind {
	if p, ok := r.Definition.(*PrimitiveType); ok {
		return p.PrimitiveKind
	}
	return 0
}

// Enum returns the enum definition of r, if any.
func (r TypeRef) Enum() *EnumType {
	e, _ := r.Definition.(*EnumType)
	return e
}

// Structured returns the entity or complex definition of r, if any.
func (r TypeRef) Structured() *StructuredType {
	s, _ := r.Definition.(*StructuredType)
	return s
}

// Collection returns the collection definition of r, if any.
func (r TypeRef) Collection() *CollectionType {
	c, _ := r.Definition.(*CollectionType)
	return c
}

// IsStructured reports whether r references an entity or complex type.
func (r TypeRef) IsStructured() bool {
	k := r.Kind()
	return k == KindEntity || k == KindComplex
}

// Is reports whether r is the primitive kind k.
func (r TypeRef) Is(k PrimitiveKind) bool {
	return r.PrimitiveKind() == k
}

// Equivalent reports whether two references name the same type, ignoring
// nullability.
func Equivalent(a, b TypeRef) bool {
	if a.Definition == nil || b.Definition == nil {
		return a.Definition == nil && b.Definition == nil
	}
	if a.Definition == b.Definition {
		return true
	}
	ac, aok := a.Definition.(*CollectionType)
	bc, bok := b.Definition.(*CollectionType)
	if aok && bok {
		return Equivalent(ac.Element, bc.Element)
	}
	return a.Definition.FullName() == b.Definition.FullName()
}

func (r TypeRef) String() string {
	if r.Definition == nil {
		return "null"
	}
	if r.Nullable {
		return r.Definition.FullName() + "?"
	}
	return r.Definition.FullName()
}

// untypedType describes values whose type is only known at runtime, such as
// dynamic properties of open types.
type untypedType struct{}

func (untypedType) Kind() TypeKind   { return KindUntyped }
func (untypedType) FullName() string { return "Edm.Untyped" }

var untyped Type = untypedType{}

// Untyped returns the runtime-typed type.
func Untyped() Type { return untyped }

// CollectionType is a collection of elements of one type.
type CollectionType struct {
	Element TypeRef
}

// CollectionOf returns a collection type over elem.
func CollectionOf(elem TypeRef) *CollectionType {
	return &CollectionType{Element: elem}
}

func (c *CollectionType) Kind() TypeKind { return KindCollection }

func (c *CollectionType) FullName() string {
	return "Collection(" + c.Element.Definition.FullName() + ")"
}

// EnumMember is a named value of an enum type.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumType is an enumeration with an integral underlying type.
type EnumType struct {
	Namespace  string
	Name       string
	Underlying PrimitiveKind
	IsFlags    bool
	Members    []EnumMember

	// GoType is the named Go type backing the enum, nil for map-backed models.
	GoType reflect.Type
}

func (e *EnumType) Kind() TypeKind { return KindEnum }

func (e *EnumType) FullName() string { return qualify(e.Namespace, e.Name) }

// Parse resolves a member name (case-insensitive), a comma-separated list of
// member names for flags enums, or a numeric string into the underlying value.
func (e *EnumType) Parse(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, ok := parseInt(s); ok {
		return n, true
	}
	if e.IsFlags && strings.Contains(s, ",") {
		var v int64
		for _, part := range strings.Split(s, ",") {
			m, ok := e.member(strings.TrimSpace(part))
			if !ok {
				return 0, false
			}
			v |= m
		}
		return v, true
	}
	return e.member(s)
}

func (e *EnumType) member(name string) (int64, bool) {
	for _, m := range e.Members {
		if strings.EqualFold(m.Name, name) {
			return m.Value, true
		}
	}
	return 0, false
}

// Format renders an underlying value as member name(s), falling back to the
// number when no member matches.
func (e *EnumType) Format(v int64) string {
	for _, m := range e.Members {
		if m.Value == v {
			return m.Name
		}
	}
	if e.IsFlags && v != 0 {
		var names []string
		rest := v
		for _, m := range e.Members {
			if m.Value != 0 && v&m.Value == m.Value {
				names = append(names, m.Name)
				rest &^= m.Value
			}
		}
		if rest == 0 && len(names) > 0 {
			return strings.Join(names, ", ")
		}
	}
	return fmt.Sprintf("%d", v)
}

// Restrictions carries per-property query capabilities. The binder assumes a
// clause that reaches it is already permitted; callers check restrictions
// first.
type Restrictions struct {
	NotFilterable bool
	NotSortable   bool
	NotExpandable bool
	NotCountable  bool

	// PageSize caps the number of elements returned for an expanded
	// collection navigation. Zero means no property-level cap.
	PageSize int
}

// Property is a declared property of a structured type.
type Property struct {
	Name         string
	Type         TypeRef
	Navigation   bool
	Accessor     Accessor
	Restrictions Restrictions

	declaring *StructuredType
}

// DeclaringType returns the structured type that declares p.
func (p *Property) DeclaringType() *StructuredType {
	return p.declaring
}

// IsCollection reports whether p is collection-valued.
func (p *Property) IsCollection() bool {
	return p.Type.Kind() == KindCollection
}

// ElementType returns the element type for collection-valued properties and
// the property type otherwise.
func (p *Property) ElementType() TypeRef {
	if c := p.Type.Collection(); c != nil {
		return c.Element
	}
	return p.Type
}

// Get reads and normalizes the property value from instance.
func (p *Property) Get(instance any) (any, error) {
	if instance == nil {
		return nil, nil
	}
	raw, ok := p.Accessor.Get(instance)
	if !ok {
		return nil, nil
	}
	v, err := Normalize(raw, p.Type)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", p.Name, err)
	}
	return v, nil
}

func (p *Property) String() string {
	if p.declaring != nil {
		return p.declaring.FullName() + "/" + p.Name
	}
	return p.Name
}

// StructuredType is an entity or complex type.
type StructuredType struct {
	Namespace string
	Name      string
	Base      *StructuredType
	Open      bool
	Keys      []string

	// GoType is the Go struct type backing the type, nil for map-backed models.
	GoType reflect.Type

	// Dynamic reads the dynamic property container of an open type. It must
	// return a map[string]any.
	Dynamic Accessor

	kind       TypeKind
	properties []*Property
	byName     map[string]*Property
}

// NewEntityType creates an empty entity type.
func NewEntityType(namespace, name string) *StructuredType {
	return &StructuredType{Namespace: namespace, Name: name, kind: KindEntity, byName: map[string]*Property{}}
}

// NewComplexType creates an empty complex type.
func NewComplexType(namespace, name string) *StructuredType {
	return &StructuredType{Namespace: namespace, Name: name, kind: KindComplex, byName: map[string]*Property{}}
}

func (t *StructuredType) Kind() TypeKind { return t.kind }

func (t *StructuredType) FullName() string { return qualify(t.Namespace, t.Name) }

// AddProperty declares p on t.
func (t *StructuredType) AddProperty(p *Property) error {
	if _, exists := t.byName[p.Name]; exists {
		return fmt.Errorf("property %s already declared on %s", p.Name, t.FullName())
	}
	if p.Accessor == nil {
		return fmt.Errorf("property %s on %s has no accessor", p.Name, t.FullName())
	}
	p.declaring = t
	t.properties = append(t.properties, p)
	t.byName[p.Name] = p
	return nil
}

// Property finds a declared property by name, searching base types.
func (t *StructuredType) Property(name string) (*Property, bool) {
	for cur := t; cur != nil; cur = cur.Base {
		if p, ok := cur.byName[name]; ok {
			return p, true
		}
	}
	return nil, false
}

// Properties returns all declared properties, base type properties first.
func (t *StructuredType) Properties() []*Property {
	var chain []*StructuredType
	for cur := t; cur != nil; cur = cur.Base {
		chain = append(chain, cur)
	}
	var props []*Property
	for i := len(chain) - 1; i >= 0; i-- {
		props = append(props, chain[i].properties...)
	}
	return props
}

// StructuralProperties returns the non-navigation properties.
func (t *StructuredType) StructuralProperties() []*Property {
	var props []*Property
	for _, p := range t.Properties() {
		if !p.Navigation {
			props = append(props, p)
		}
	}
	return props
}

// IsOpen reports whether t or a base type is open.
func (t *StructuredType) IsOpen() bool {
	for cur := t; cur != nil; cur = cur.Base {
		if cur.Open {
			return true
		}
	}
	return false
}

// DynamicAccessor returns the dynamic container accessor of t or its bases.
func (t *StructuredType) DynamicAccessor() Accessor {
	for cur := t; cur != nil; cur = cur.Base {
		if cur.Dynamic != nil {
			return cur.Dynamic
		}
	}
	return nil
}

// IsAssignableFrom reports whether other is t or derives from t.
func (t *StructuredType) IsAssignableFrom(other *StructuredType) bool {
	for cur := other; cur != nil; cur = cur.Base {
		if cur == t {
			return true
		}
	}
	return false
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func sortedTypeNames(types map[string]Type) []string {
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
