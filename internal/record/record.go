// Package record holds the dynamically shaped rows produced by $apply.
//
// A NamedProperty chain represents any number of named values as one
// concrete type, so grouping keys and aggregate results need no per-query
// type generation. A GroupByWrapper pairs the grouping key chain with the
// aggregate value chain of one result row.
package record

import (
	"encoding/base64"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NamedProperty is one link of a name/value chain.
type NamedProperty[T any] struct {
	Name  string
	Value T
	Next  *NamedProperty[T]
}

// Chain links names and values in order. It panics if the lengths differ.
func Chain[T any](names []string, values []T) *NamedProperty[T] {
	if len(names) != len(values) {
		panic(fmt.Sprintf("record.Chain: %d names for %d values", len(names), len(values)))
	}
	var head *NamedProperty[T]
	for i := len(names) - 1; i >= 0; i-- {
		head = &NamedProperty[T]{Name: names[i], Value: values[i], Next: head}
	}
	return head
}

// Lookup returns the first value named name.
func (p *NamedProperty[T]) Lookup(name string) (T, bool) {
	for cur := p; cur != nil; cur = cur.Next {
		if cur.Name == name {
			return cur.Value, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of links.
func (p *NamedProperty[T]) Len() int {
	n := 0
	for cur := p; cur != nil; cur = cur.Next {
		n++
	}
	return n
}

// All iterates the chain in order.
func (p *NamedProperty[T]) All() iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		for cur := p; cur != nil; cur = cur.Next {
			if !yield(cur.Name, cur.Value) {
				return
			}
		}
	}
}

// Names returns the names in order.
func (p *NamedProperty[T]) Names() []string {
	var names []string
	for name := range p.All() {
		names = append(names, name)
	}
	return names
}

// Properties is the chain shape used for rows: values are normalized
// runtime values, nested *Properties for grouped navigation paths.
type Properties = NamedProperty[any]

// GroupByWrapper is one row produced by groupby or aggregate.
type GroupByWrapper struct {
	GroupBy *Properties
	Values  *Properties
}

// Get resolves a slash-separated path, first through the grouping key chain
// and then through the aggregate values.
func (w *GroupByWrapper) Get(path string) (any, bool) {
	if w == nil {
		return nil, false
	}
	if v, ok := lookupPath(w.GroupBy, path); ok {
		return v, true
	}
	return lookupPath(w.Values, path)
}

func lookupPath(p *Properties, path string) (any, bool) {
	segs := strings.Split(path, "/")
	var cur any = p
	for _, seg := range segs {
		chain, ok := cur.(*Properties)
		if !ok || chain == nil {
			return nil, false
		}
		if cur, ok = chain.Lookup(seg); !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToMap flattens the row to a map: grouping keys (nested as maps) followed by
// aggregate values. An aggregate named like a key overrides it.
func (w *GroupByWrapper) ToMap() map[string]any {
	out := make(map[string]any)
	for _, chain := range []*Properties{w.GroupBy, w.Values} {
		for name, v := range chain.All() {
			out[name] = unwrap(v)
		}
	}
	return out
}

func unwrap(v any) any {
	if chain, ok := v.(*Properties); ok {
		m := make(map[string]any, chain.Len())
		for name, inner := range chain.All() {
			m[name] = unwrap(inner)
		}
		return m
	}
	return v
}

// Key encodes values as a string that is equal for equal values, for use as
// a map key when grouping. Values must be normalized runtime values.
func Key(values ...any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		writeKey(&b, v)
	}
	return b.String()
}

func writeKey(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n")
	case bool:
		b.WriteString("b" + strconv.FormatBool(x))
	case int64:
		b.WriteString("i" + strconv.FormatInt(x, 10))
	case float64:
		if x == 0 {
			x = 0 // -0 groups with 0
		}
		b.WriteString("f" + strconv.FormatFloat(x, 'g', -1, 64))
	case decimal.Decimal:
		b.WriteString("d" + x.String())
	case string:
		b.WriteString("s" + strconv.Quote(x))
	case []byte:
		b.WriteString("x" + base64.StdEncoding.EncodeToString(x))
	case uuid.UUID:
		b.WriteString("g" + x.String())
	case time.Time:
		b.WriteString("t" + x.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		b.WriteString("u" + strconv.FormatInt(int64(x), 10))
	case *Properties:
		b.WriteByte('{')
		for name, inner := range x.All() {
			b.WriteString(strconv.Quote(name))
			b.WriteByte(':')
			writeKey(b, inner)
			b.WriteByte(';')
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for _, inner := range x {
			writeKey(b, inner)
			b.WriteByte(';')
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "%T:%v", v, v)
	}
}
