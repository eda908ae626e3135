// Package functions holds the canonical function table.
//
// A Registry maps function names to overloads (expr.Function descriptors)
// and custom aggregation labels to expr.AggregateFunc descriptors. It is
// built once with a RegistryBuilder and is immutable afterwards, so one
// Registry can be shared by concurrent compilations.
package functions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

// Registry is an immutable function table.
type Registry struct {
	functions  map[string][]*expr.Function
	aggregates map[string][]*expr.AggregateFunc
}

// RegistryBuilder assembles a Registry.
type RegistryBuilder struct {
	clock      func() time.Time
	custom     []*expr.Function
	aggregates []*expr.AggregateFunc
	canonical  bool
}

// NewRegistryBuilder returns a builder preloaded with the canonical
// functions.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{clock: time.Now, canonical: true}
}

// WithoutCanonical drops the canonical functions, leaving only custom ones.
func (b *RegistryBuilder) WithoutCanonical() *RegistryBuilder {
	b.canonical = false
	return b
}

// WithClock sets the clock behind now().
func (b *RegistryBuilder) WithClock(clock func() time.Time) *RegistryBuilder {
	b.clock = clock
	return b
}

// AddFunction registers a custom function. Custom functions are keyed by name
// plus exact parameter kinds; a custom function with the same key as a
// canonical overload replaces it.
func (b *RegistryBuilder) AddFunction(f *expr.Function) *RegistryBuilder {
	b.custom = append(b.custom, f)
	return b
}

// AddAggregate registers a custom aggregation method, keyed by label plus
// exact input kind.
func (b *RegistryBuilder) AddAggregate(a *expr.AggregateFunc) *RegistryBuilder {
	b.aggregates = append(b.aggregates, a)
	return b
}

// Build validates the registrations and returns the registry.
func (b *RegistryBuilder) Build() (*Registry, error) {
	r := &Registry{
		functions:  make(map[string][]*expr.Function),
		aggregates: make(map[string][]*expr.AggregateFunc),
	}
	if b.canonical {
		for _, f := range canonical(b.clock) {
			r.functions[f.Name] = append(r.functions[f.Name], f)
		}
	}

	var errs []error
	customKeys := make(map[string]bool)
	for _, f := range b.custom {
		if f.Name == "" || f.Impl == nil {
			errs = append(errs, fmt.Errorf("custom function %q needs a name and an implementation", f.Name))
			continue
		}
		key := signatureKey(f.Name, f.Params)
		if customKeys[key] {
			errs = append(errs, fmt.Errorf("custom function %s registered twice", key))
			continue
		}
		customKeys[key] = true
		r.functions[f.Name] = slices.DeleteFunc(r.functions[f.Name], func(existing *expr.Function) bool {
			return slices.Equal(existing.Params, f.Params)
		})
		r.functions[f.Name] = append(r.functions[f.Name], f)
	}
	for _, a := range b.aggregates {
		if a.Label == "" || a.Impl == nil {
			errs = append(errs, fmt.Errorf("custom aggregate %q needs a label and an implementation", a.Label))
			continue
		}
		if _, exists := r.Aggregate(a.Label, a.Input); exists {
			errs = append(errs, fmt.Errorf("custom aggregate %s(%s) registered twice", a.Label, a.Input))
			continue
		}
		r.aggregates[a.Label] = append(r.aggregates[a.Label], a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Default returns a registry with the canonical functions and the system
// clock.
func Default() *Registry {
	r, err := NewRegistryBuilder().Build()
	if err != nil {
		panic(err)
	}
	return r
}

func signatureKey(name string, params []edm.PrimitiveKind) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if p == 0 {
			parts[i] = "any"
		} else {
			parts[i] = p.String()
		}
	}
	return name + "(" + strings.Join(parts, ",") + ")"
}

// Has reports whether any overload of name exists.
func (r *Registry) Has(name string) bool {
	return len(r.functions[name]) > 0
}

// Overloads returns the overloads registered for name.
func (r *Registry) Overloads(name string) []*expr.Function {
	return slices.Clone(r.functions[name])
}

// Names returns every function name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for n := range r.functions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resolve picks the overload of name for the given argument kinds. A zero
// kind is an argument of unknown kind (a null literal or untyped value) and
// matches any parameter.
//
// An exact match wins. Otherwise numeric arguments may widen to the
// parameter kind (PromoteNumeric); the overload needing the fewest widenings
// is chosen, and among those the one widening to the narrowest kinds. The
// returned slice holds, per argument, the kind it must be converted to, or
// zero when it is used as is.
func (r *Registry) Resolve(name string, args []edm.PrimitiveKind) (*expr.Function, []edm.PrimitiveKind, bool) {
	var best *expr.Function
	var bestConv []edm.PrimitiveKind
	bestCost, bestWidth := -1, 0
	for _, f := range r.functions[name] {
		if len(f.Params) != len(args) {
			continue
		}
		conv := make([]edm.PrimitiveKind, len(args))
		cost, width := 0, 0
		ok := true
		for i, p := range f.Params {
			a := args[i]
			switch {
			case p == 0 || a == 0 || p == a:
			case widens(a, p):
				conv[i] = p
				cost++
				width += widthOf(p)
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}
		if bestCost < 0 || cost < bestCost || (cost == bestCost && width < bestWidth) {
			best, bestConv, bestCost, bestWidth = f, conv, cost, width
		}
	}
	return best, bestConv, best != nil
}

func widens(from, to edm.PrimitiveKind) bool {
	if !from.IsNumeric() || !to.IsNumeric() || (from.IsFloating() && to == edm.Decimal) {
		return false
	}
	p, ok := edm.PromoteNumeric(from, to)
	return ok && p == to
}

var widthOrder = []edm.PrimitiveKind{edm.Byte, edm.SByte, edm.Int16, edm.Int32, edm.Int64, edm.Decimal, edm.Single, edm.Double}

func widthOf(k edm.PrimitiveKind) int {
	return slices.Index(widthOrder, k)
}

// Aggregate finds a custom aggregation by label and exact input kind.
func (r *Registry) Aggregate(label string, input edm.PrimitiveKind) (*expr.AggregateFunc, bool) {
	for _, a := range r.aggregates[label] {
		if a.Input == input {
			return a, true
		}
	}
	return nil, false
}
