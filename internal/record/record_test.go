package record

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	p := Chain([]string{"a", "b", "c"}, []int{1, 2, 3})
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []string{"a", "b", "c"}, p.Names())

	v, ok := p.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = p.Lookup("z")
	assert.False(t, ok)

	var empty *NamedProperty[int]
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, Chain[int](nil, nil))

	assert.Panics(t, func() { Chain([]string{"a"}, []int{}) })
}

func TestGroupByWrapper(t *testing.T) {
	customer := Chain([]string{"Name"}, []any{"Ann"})
	w := &GroupByWrapper{
		GroupBy: Chain([]string{"Category", "Customer"}, []any{"a", customer}),
		Values:  Chain([]string{"Total"}, []any{int64(15)}),
	}

	v, ok := w.Get("Category")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = w.Get("Customer/Name")
	require.True(t, ok)
	assert.Equal(t, "Ann", v)

	v, ok = w.Get("Total")
	require.True(t, ok)
	assert.Equal(t, int64(15), v)

	_, ok = w.Get("Customer/Missing")
	assert.False(t, ok)
	_, ok = w.Get("Category/Deeper")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{
		"Category": "a",
		"Customer": map[string]any{"Name": "Ann"},
		"Total":    int64(15),
	}, w.ToMap())
}

func TestKey(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		a, b  []any
		equal bool
	}{
		{"same ints", []any{int64(1), "x"}, []any{int64(1), "x"}, true},
		{"int vs string", []any{int64(1)}, []any{"1"}, false},
		{"null vs empty", []any{nil}, []any{""}, false},
		{"decimal scale", []any{decimal.RequireFromString("1.50")}, []any{decimal.RequireFromString("1.5")}, true},
		{"same instant other zone", []any{ts}, []any{ts.In(time.FixedZone("x", 3600))}, true},
		{"negative zero", []any{math.Copysign(0, -1)}, []any{float64(0)}, true},
		{"separator in value", []any{"a\x1fb"}, []any{"a", "b"}, false},
		{"nested", []any{Chain([]string{"N"}, []any{"a"})}, []any{Chain([]string{"N"}, []any{"a"})}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, Key(tt.a...) == Key(tt.b...))
		})
	}
}
