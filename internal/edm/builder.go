package edm

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TagName is the struct tag the Builder reads.
//
//	Name     string            `odata:"name"`
//	Note     string            `odata:",nullable"`
//	Code     string            `odata:"code,key"`
//	Hidden   string            `odata:"-"`
//	Extra    map[string]any    `odata:",dynamic"`
//	Orders   []*Order          `odata:",notexpandable,pagesize=50"`
const TagName = "odata"

// Builder describes Go struct types as a Model.
//
// Types are registered first and resolved in Build, so registration order
// does not matter and types may refer to each other cyclically.
type Builder struct {
	namespace string
	entities  []reflect.Type
	complexes []reflect.Type
	enums     []*EnumType
	seen      map[reflect.Type]bool
	errs      []error
}

// NewBuilder returns a Builder that places every type in namespace.
func NewBuilder(namespace string) *Builder {
	return &Builder{namespace: namespace, seen: make(map[reflect.Type]bool)}
}

// Entity registers the struct type of sample as an entity type.
func (b *Builder) Entity(sample any) *Builder {
	if t, ok := b.register(sample); ok {
		b.entities = append(b.entities, t)
	}
	return b
}

// Complex registers the struct type of sample as a complex type.
func (b *Builder) Complex(sample any) *Builder {
	if t, ok := b.register(sample); ok {
		b.complexes = append(b.complexes, t)
	}
	return b
}

// Enum registers the named integer type of sample as an enum type with the
// given members.
func (b *Builder) Enum(sample any, flags bool, members ...EnumMember) *Builder {
	t := reflect.TypeOf(sample)
	if t == nil || t.Name() == "" {
		b.errs = append(b.errs, fmt.Errorf("enum sample %T must be a named type", sample))
		return b
	}
	k, ok := integralKind(t.Kind())
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("enum %s must have an integer underlying type", t))
		return b
	}
	if b.seen[t] {
		b.errs = append(b.errs, fmt.Errorf("type %s registered twice", t))
		return b
	}
	b.seen[t] = true
	b.enums = append(b.enums, &EnumType{
		Namespace:  b.namespace,
		Name:       t.Name(),
		Underlying: k,
		IsFlags:    flags,
		Members:    members,
		GoType:     t,
	})
	return b
}

func (b *Builder) register(sample any) (reflect.Type, bool) {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		b.errs = append(b.errs, fmt.Errorf("can only describe struct types, got %T", sample))
		return nil, false
	}
	if b.seen[t] {
		b.errs = append(b.errs, fmt.Errorf("type %s registered twice", t))
		return nil, false
	}
	b.seen[t] = true
	return t, true
}

// Build resolves every registered type and returns the model.
func (b *Builder) Build() (*Model, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	m := NewModel(b.namespace)
	for _, e := range b.enums {
		if err := m.AddType(e); err != nil {
			return nil, err
		}
	}

	structured := make(map[reflect.Type]*StructuredType)
	for _, t := range b.entities {
		st := NewEntityType(b.namespace, t.Name())
		st.GoType = t
		structured[t] = st
	}
	for _, t := range b.complexes {
		st := NewComplexType(b.namespace, t.Name())
		st.GoType = t
		structured[t] = st
	}

	r := &resolver{model: m, structured: structured}
	for _, t := range append(append([]reflect.Type{}, b.entities...), b.complexes...) {
		if err := r.describe(structured[t]); err != nil {
			return nil, err
		}
		if err := m.AddType(structured[t]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type resolver struct {
	model      *Model
	structured map[reflect.Type]*StructuredType
}

func (r *resolver) describe(st *StructuredType) error {
	fields, err := structFields(st.GoType)
	if err != nil {
		return fmt.Errorf("describe %s: %w", st.FullName(), err)
	}
	for _, f := range fields {
		if f.embedded {
			base, ok := r.structured[f.typ]
			if !ok {
				return fmt.Errorf("describe %s: embedded %s is not a registered type", st.FullName(), f.typ)
			}
			if base.Kind() != st.Kind() {
				return fmt.Errorf("describe %s: base %s is a %s type", st.FullName(), base.FullName(), base.Kind())
			}
			st.Base = base
			continue
		}
		if f.tag.dynamic {
			if f.typ.Kind() != reflect.Map || f.typ.Key().Kind() != reflect.String {
				return fmt.Errorf("describe %s: dynamic field %s must be a map with string keys", st.FullName(), f.goName)
			}
			st.Open = true
			st.Dynamic = FieldAccessor{Owner: st.GoType, Index: f.index, Name: f.goName}
			continue
		}
		ref, nav, err := r.typeRef(f.typ, f.tag.nullable)
		if err != nil {
			return fmt.Errorf("describe %s.%s: %w", st.FullName(), f.goName, err)
		}
		prop := &Property{
			Name:         f.tag.name,
			Type:         ref,
			Navigation:   nav,
			Accessor:     FieldAccessor{Owner: st.GoType, Index: f.index, Name: f.goName},
			Restrictions: f.tag.restrictions,
		}
		if err := st.AddProperty(prop); err != nil {
			return err
		}
		if f.tag.key {
			st.Keys = append(st.Keys, prop.Name)
		}
	}
	if st.Kind() == KindEntity && len(st.Keys) == 0 && st.Base == nil {
		for _, conv := range []string{"Id", "ID", st.Name + "Id", st.Name + "ID"} {
			if _, ok := st.byName[conv]; ok {
				st.Keys = []string{conv}
				break
			}
		}
	}
	return nil
}

// typeRef maps a Go type to a model type. Pointers and slices are nullable;
// strings are nullable only when tagged.
func (r *resolver) typeRef(t reflect.Type, nullable bool) (TypeRef, bool, error) {
	if t.Kind() == reflect.Pointer {
		ref, nav, err := r.typeRef(t.Elem(), true)
		return ref, nav, err
	}
	if k, ok := wellKnownKind(t); ok {
		return PrimitiveRef(k, nullable), false, nil
	}
	if def, ok := r.model.byGoType[t]; ok {
		return NewTypeRef(def, nullable), false, nil
	}
	if st, ok := r.structured[t]; ok {
		return NewTypeRef(st, nullable), st.Kind() == KindEntity, nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		elem, nav, err := r.typeRef(t.Elem(), t.Elem().Kind() == reflect.Pointer)
		if err != nil {
			return TypeRef{}, false, err
		}
		return NewTypeRef(CollectionOf(elem), true), nav, nil
	case reflect.Interface:
		return NewTypeRef(untyped, true), false, nil
	}
	if k, ok := basicKind(t.Kind()); ok {
		return PrimitiveRef(k, nullable), false, nil
	}
	return TypeRef{}, false, fmt.Errorf("unsupported field type %s", t)
}

func wellKnownKind(t reflect.Type) (PrimitiveKind, bool) {
	switch t {
	case timeType:
		return DateTimeOffset, true
	case durationType:
		return Duration, true
	case decimalType:
		return Decimal, true
	case uuidType:
		return Guid, true
	case dateType:
		return Date, true
	case localTimeType:
		return TimeOfDay, true
	case bytesType:
		return Binary, true
	case pointType:
		return GeographyPoint, true
	case lineType:
		return GeographyLineString, true
	case polygonType:
		return GeographyPolygon, true
	}
	return 0, false
}

func basicKind(k reflect.Kind) (PrimitiveKind, bool) {
	switch k {
	case reflect.Bool:
		return Boolean, true
	case reflect.String:
		return String, true
	case reflect.Float32:
		return Single, true
	case reflect.Float64:
		return Double, true
	}
	return integralKind(k)
}

func integralKind(k reflect.Kind) (PrimitiveKind, bool) {
	switch k {
	case reflect.Uint8:
		return Byte, true
	case reflect.Int8:
		return SByte, true
	case reflect.Int16:
		return Int16, true
	case reflect.Int32, reflect.Uint16:
		return Int32, true
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return Int64, true
	}
	return 0, false
}

// fieldInfo is the reflection information the Builder needs per struct field.
type fieldInfo struct {
	goName   string
	index    []int
	typ      reflect.Type
	embedded bool
	tag      tagInfo
}

var (
	fieldCacheMutex sync.RWMutex
	fieldCache      = make(map[reflect.Type][]fieldInfo)
)

// structFields returns the describable fields of a struct type. Results are
// cached per type.
func structFields(t reflect.Type) ([]fieldInfo, error) {
	fieldCacheMutex.RLock()
	fields, found := fieldCache[t]
	fieldCacheMutex.RUnlock()
	if found {
		return fields, nil
	}

	fields, err := generateFields(t)
	if err != nil {
		return nil, err
	}

	fieldCacheMutex.Lock()
	fieldCache[t] = fields
	fieldCacheMutex.Unlock()
	return fields, nil
}

func generateFields(t reflect.Type) ([]fieldInfo, error) {
	var fields []fieldInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		raw, tagged := f.Tag.Lookup(TagName)
		if raw == "-" || (!f.IsExported() && !f.Anonymous) {
			continue
		}
		if f.Anonymous && !tagged {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			fields = append(fields, fieldInfo{goName: f.Name, index: f.Index, typ: ft, embedded: true})
			continue
		}
		tag, err := parseTag(raw, f.Name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, fieldInfo{goName: f.Name, index: f.Index, typ: f.Type, tag: tag})
	}
	return fields, nil
}

type tagInfo struct {
	name         string
	nullable     bool
	key          bool
	dynamic      bool
	restrictions Restrictions
}

var validPropertyNameRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z_0-9]*$`)

// parseTag parses an odata struct tag. An empty name keeps the Go field name.
func parseTag(tag, fieldName string) (tagInfo, error) {
	options := strings.Split(tag, ",")
	info := tagInfo{name: options[0]}
	if info.name == "" {
		info.name = fieldName
	}
	if !validPropertyNameRx.MatchString(info.name) {
		return tagInfo{}, fmt.Errorf("invalid property name %q in %s tag", info.name, TagName)
	}
	for _, opt := range options[1:] {
		opt = strings.ToLower(strings.TrimSpace(opt))
		switch {
		case opt == "nullable":
			info.nullable = true
		case opt == "key":
			info.key = true
		case opt == "dynamic":
			info.dynamic = true
		case opt == "notfilterable":
			info.restrictions.NotFilterable = true
		case opt == "notsortable":
			info.restrictions.NotSortable = true
		case opt == "notexpandable":
			info.restrictions.NotExpandable = true
		case opt == "notcountable":
			info.restrictions.NotCountable = true
		case strings.HasPrefix(opt, "pagesize="):
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "pagesize="))
			if err != nil || n < 0 {
				return tagInfo{}, fmt.Errorf("invalid pagesize in %s tag: %q", TagName, opt)
			}
			info.restrictions.PageSize = n
		default:
			return tagInfo{}, fmt.Errorf("unexpected %s tag option %q", TagName, opt)
		}
	}
	return info, nil
}
