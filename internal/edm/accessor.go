package edm

import "reflect"

// Accessor reads the raw value of a property from a concrete instance.
// ok is false when the instance does not carry the property at all.
type Accessor interface {
	Get(instance any) (value any, ok bool)
}

// AccessorFunc adapts a function to Accessor.
type AccessorFunc func(instance any) (any, bool)

func (f AccessorFunc) Get(instance any) (any, bool) { return f(instance) }

// FieldAccessor reads a struct field. Index is used when the instance is of
// Owner; other struct types (derived types embedding Owner) are read by
// Name, which follows promoted fields.
type FieldAccessor struct {
	Owner reflect.Type
	Index []int
	Name  string
}

func (a FieldAccessor) Get(instance any) (any, bool) {
	v, ok := indirect(reflect.ValueOf(instance))
	if !ok || v.Kind() != reflect.Struct {
		return nil, false
	}
	index := a.Index
	if v.Type() != a.Owner {
		sf, found := v.Type().FieldByName(a.Name)
		if !found {
			return nil, false
		}
		index = sf.Index
	}
	f, err := v.FieldByIndexErr(index)
	if err != nil || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}

// MapAccessor reads a key from a map[string]any row.
type MapAccessor struct {
	Key string
}

func (a MapAccessor) Get(instance any) (any, bool) {
	switch row := instance.(type) {
	case map[string]any:
		v, ok := row[a.Key]
		return v, ok
	case *map[string]any:
		if row == nil {
			return nil, false
		}
		v, ok := (*row)[a.Key]
		return v, ok
	}
	return nil, false
}

// indirect dereferences pointers and interfaces. ok is false on a nil pointer.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// IsNil reports whether v is nil or a typed nil pointer, map, slice or
// interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
