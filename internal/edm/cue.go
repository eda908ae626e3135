package edm

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// LoadCUE compiles a CUE model document describing map-backed types:
//
//	namespace: "Shop"
//	enums: Color: {
//		flags: false
//		members: {Red: 0, Green: 1, Blue: 2}
//	}
//	complex: Address: properties: {
//		City: "Edm.String"
//		Zip:  {type: "Edm.String", nullable: true}
//	}
//	entities: Product: {
//		key: ["Id"]
//		open: true
//		properties: {
//			Id:      "Edm.Int32"
//			Color:   "Color?"
//			Address: "Address"
//			Orders:  {type: "Collection(Order)", pageSize: 10}
//		}
//	}
//
// A trailing "?" on a type name marks the property nullable. Properties whose
// type is an entity type, or a collection of one, are navigation properties.
// Every property is read from a map[string]any row under its own name.
func LoadCUE(src []byte, filename string) (*Model, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return LoadCUEValue(v)
}

// LoadCUEValue builds a model from an already compiled CUE value.
func LoadCUEValue(v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	ns := ""
	if nsVal := v.LookupPath(cue.ParsePath("namespace")); nsVal.Exists() {
		s, err := nsVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ns = s
	}

	l := &cueLoader{model: NewModel(ns), namespace: ns, structured: map[string]cue.Value{}}
	if err := l.declareEnums(v.LookupPath(cue.ParsePath("enums"))); err != nil {
		return nil, err
	}
	if err := l.declareStructured(v.LookupPath(cue.ParsePath("complex")), false); err != nil {
		return nil, err
	}
	if err := l.declareStructured(v.LookupPath(cue.ParsePath("entities")), true); err != nil {
		return nil, err
	}
	for _, name := range l.order {
		if err := l.describe(name, l.structured[name]); err != nil {
			return nil, err
		}
	}
	return l.model, nil
}

type cueLoader struct {
	model      *Model
	namespace  string
	order      []string
	structured map[string]cue.Value
}

func (l *cueLoader) declareEnums(v cue.Value) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		e := &EnumType{Namespace: l.namespace, Name: iter.Label(), Underlying: Int32}
		ev := iter.Value()
		if flags := ev.LookupPath(cue.ParsePath("flags")); flags.Exists() {
			if e.IsFlags, err = flags.Bool(); err != nil {
				return formatCUEError(err)
			}
		}
		members, err := ev.LookupPath(cue.ParsePath("members")).Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for members.Next() {
			n, err := members.Value().Int64()
			if err != nil {
				return formatCUEError(err)
			}
			e.Members = append(e.Members, EnumMember{Name: members.Label(), Value: n})
		}
		if len(e.Members) == 0 {
			return &ModelError{Field: "enums." + e.Name, Message: "enum has no members", Pos: ev.Pos()}
		}
		if err := l.model.AddType(e); err != nil {
			return &ModelError{Field: "enums." + e.Name, Message: err.Error(), Pos: ev.Pos()}
		}
	}
	return nil
}

func (l *cueLoader) declareStructured(v cue.Value, entity bool) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		var st *StructuredType
		if entity {
			st = NewEntityType(l.namespace, iter.Label())
		} else {
			st = NewComplexType(l.namespace, iter.Label())
		}
		if err := l.model.AddType(st); err != nil {
			return &ModelError{Field: iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
		}
		l.order = append(l.order, st.FullName())
		l.structured[st.FullName()] = iter.Value()
	}
	return nil
}

func rowAccessor(instance any) (any, bool) {
	row, ok := instance.(map[string]any)
	return row, ok
}

func (l *cueLoader) describe(name string, v cue.Value) error {
	st, _ := l.model.StructuredType(name)

	if base := v.LookupPath(cue.ParsePath("base")); base.Exists() {
		baseName, err := base.String()
		if err != nil {
			return formatCUEError(err)
		}
		bt, ok := l.model.StructuredType(baseName)
		if !ok || bt.Kind() != st.Kind() {
			return &ModelError{Field: st.Name + ".base", Message: fmt.Sprintf("unknown base type %q", baseName), Pos: base.Pos()}
		}
		st.Base = bt
	}
	if open := v.LookupPath(cue.ParsePath("open")); open.Exists() {
		isOpen, err := open.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		if isOpen {
			st.Open = true
			st.Dynamic = AccessorFunc(rowAccessor)
		}
	}

	props := v.LookupPath(cue.ParsePath("properties"))
	if props.Exists() {
		iter, err := props.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			p, err := l.property(st, iter.Label(), iter.Value())
			if err != nil {
				return err
			}
			if err := st.AddProperty(p); err != nil {
				return &ModelError{Field: st.Name + "." + p.Name, Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
	}

	if keys := v.LookupPath(cue.ParsePath("key")); keys.Exists() {
		list, err := keys.List()
		if err != nil {
			return formatCUEError(err)
		}
		for list.Next() {
			k, err := list.Value().String()
			if err != nil {
				return formatCUEError(err)
			}
			if _, ok := st.Property(k); !ok {
				return &ModelError{Field: st.Name + ".key", Message: fmt.Sprintf("key %q is not a property", k), Pos: list.Value().Pos()}
			}
			st.Keys = append(st.Keys, k)
		}
	}
	return nil
}

func (l *cueLoader) property(st *StructuredType, name string, v cue.Value) (*Property, error) {
	field := st.Name + "." + name
	p := &Property{Name: name, Accessor: MapAccessor{Key: name}}

	var typeName string
	nullable := false
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		typeName = s
	case cue.StructKind:
		s, err := v.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, &ModelError{Field: field, Message: "type is required", Pos: v.Pos()}
		}
		typeName = s
		flags := map[string]*bool{
			"nullable":      &nullable,
			"notFilterable": &p.Restrictions.NotFilterable,
			"notSortable":   &p.Restrictions.NotSortable,
			"notExpandable": &p.Restrictions.NotExpandable,
			"notCountable":  &p.Restrictions.NotCountable,
		}
		for label, dst := range flags {
			fv := v.LookupPath(cue.ParsePath(label))
			if !fv.Exists() {
				continue
			}
			b, err := fv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			*dst = b
		}
		if ps := v.LookupPath(cue.ParsePath("pageSize")); ps.Exists() {
			n, err := ps.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			p.Restrictions.PageSize = int(n)
		}
	default:
		return nil, &ModelError{
			Field:   field,
			Message: fmt.Sprintf("property must be a type name or a struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	if trimmed, ok := strings.CutSuffix(typeName, "?"); ok {
		typeName, nullable = trimmed, true
	}
	t, ok := l.model.FindType(typeName)
	if !ok {
		return nil, &ModelError{Field: field, Message: fmt.Sprintf("unknown type %q", typeName), Pos: v.Pos()}
	}
	if c, isColl := t.(*CollectionType); isColl {
		c.Element.Nullable = c.Element.IsStructured() || c.Element.Kind() == KindUntyped
		nullable = true
	}
	p.Type = NewTypeRef(t, nullable || t.Kind() == KindUntyped || t.Kind() == KindEntity)
	p.Navigation = p.ElementType().Kind() == KindEntity
	return p, nil
}

// ModelError is a model document error with its source position.
type ModelError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ModelError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &ModelError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
