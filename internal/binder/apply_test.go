package binder

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
	"github.com/roach88/querybind/internal/functions"
	"github.com/roach88/querybind/internal/record"
	"github.com/roach88/querybind/internal/semantic"
)

type sale struct {
	Id       int
	Category string
	Price    int
}

func saleModel(t *testing.T) (*edm.Model, *edm.StructuredType) {
	t.Helper()
	m, err := edm.NewBuilder("Shop").Entity(sale{}).Build()
	require.NoError(t, err)
	st, ok := m.StructuredType("Shop.sale")
	require.True(t, ok)
	return m, st
}

func saleProperty(t *testing.T, m *edm.Model, st *edm.StructuredType, name string) semantic.SingleValueNode {
	t.Helper()
	n, err := semantic.ResolvePath(m, semantic.Ref(semantic.It(st)), name)
	require.NoError(t, err)
	return n.(semantic.SingleValueNode)
}

func toMaps(t *testing.T, rows []any) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		w, ok := r.(*record.GroupByWrapper)
		require.True(t, ok, "row %d is %T", i, r)
		out[i] = w.ToMap()
	}
	return out
}

func anyRows[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func TestBindApplyGroupBySum(t *testing.T) {
	m, st := saleModel(t)
	rows := []any{
		&sale{Id: 1, Category: "a", Price: 10},
		&sale{Id: 2, Category: "a", Price: 5},
		&sale{Id: 3, Category: "b", Price: 7},
	}

	clause := &semantic.ApplyClause{Transformations: []semantic.Transformation{
		&semantic.GroupByTransformation{
			GroupingProperties: []*semantic.GroupByPropertyNode{
				{Name: "Category", Expression: saleProperty(t, m, st, "Category")},
			},
			Child: &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
				{Expression: saleProperty(t, m, st, "Price"), Method: semantic.Sum, Alias: "Total"},
			}},
		},
	}}

	p, err := BindApply(m, clause, st, quietSettings())
	require.NoError(t, err)
	assert.Equal(t, "groupby((Category), aggregate(sum($group, $it => $it.Price) as Total))", p.String())
	assert.Equal(t, []string{"Category", "Total"}, p.Index.Paths())

	out, err := p.Run(rows)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"Category": "a", "Total": int64(15)},
		{"Category": "b", "Total": int64(7)},
	}, toMaps(t, out))
}

func TestBindApplyAggregateMethods(t *testing.T) {
	f := newFixture(t)
	rows := anyRows(sampleProducts())

	tests := []struct {
		name   string
		method semantic.AggregationMethod
		path   string
		kind   edm.PrimitiveKind
		check  func(t *testing.T, v any)
	}{
		{
			name: "sum of int32", method: semantic.Sum, path: "Stock", kind: edm.Int64,
			check: func(t *testing.T, v any) { assert.Equal(t, int64(43), v) },
		},
		{
			name: "sum of decimal", method: semantic.Sum, path: "Price", kind: edm.Decimal,
			check: func(t *testing.T, v any) {
				assert.True(t, decimal.RequireFromString("44.5").Equal(v.(decimal.Decimal)), "got %v", v)
			},
		},
		{
			name: "average skips nulls", method: semantic.Average, path: "Rating", kind: edm.Double,
			check: func(t *testing.T, v any) { assert.InDelta(t, 3.75, v, 1e-9) },
		},
		{
			name: "average of integers", method: semantic.Average, path: "Stock", kind: edm.Double,
			check: func(t *testing.T, v any) { assert.InDelta(t, 43.0/3, v, 1e-9) },
		},
		{
			name: "min of decimal", method: semantic.Min, path: "Price", kind: edm.Decimal,
			check: func(t *testing.T, v any) {
				assert.True(t, decimal.RequireFromString("2.5").Equal(v.(decimal.Decimal)), "got %v", v)
			},
		},
		{
			name: "max of string", method: semantic.Max, path: "Name", kind: edm.String,
			check: func(t *testing.T, v any) { assert.Equal(t, "Wrench", v) },
		},
		{
			name: "countdistinct of enum", method: semantic.CountDistinct, path: "Color", kind: edm.Int64,
			check: func(t *testing.T, v any) { assert.Equal(t, int64(2), v) },
		},
		{
			name: "sum of dynamic values", method: semantic.Sum, path: "Score", kind: edm.Decimal,
			check: func(t *testing.T, v any) {
				assert.True(t, decimal.RequireFromString("9.5").Equal(v.(decimal.Decimal)), "got %v", v)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause := &semantic.ApplyClause{Transformations: []semantic.Transformation{
				&semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
					{Expression: f.path(t, tt.path), Method: tt.method, Alias: "Result"},
					{Method: semantic.VirtualPropertyCount, Alias: "Rows"},
				}},
			}}
			p, err := BindApply(f.model, clause, f.product, quietSettings())
			require.NoError(t, err)

			rt, ok := p.Index.Lookup("Result")
			require.True(t, ok)
			assert.Equal(t, tt.kind, rt.PrimitiveKind())

			out, err := p.Run(rows)
			require.NoError(t, err)
			require.Len(t, out, 1)
			got := out[0].(*record.GroupByWrapper).ToMap()
			assert.Equal(t, int64(3), got["Rows"])
			tt.check(t, got["Result"])
		})
	}
}

func TestBareAggregateOverNoRows(t *testing.T) {
	f := newFixture(t)
	clause := &semantic.ApplyClause{Transformations: []semantic.Transformation{
		&semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
			{Expression: f.path(t, "Stock"), Method: semantic.Sum, Alias: "Total"},
		}},
	}}
	p, err := BindApply(f.model, clause, f.product, quietSettings())
	require.NoError(t, err)

	out, err := p.Run(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBindApplyNestedGroupingKeys(t *testing.T) {
	f := newFixture(t)
	clause := &semantic.ApplyClause{Transformations: []semantic.Transformation{
		&semantic.GroupByTransformation{
			GroupingProperties: []*semantic.GroupByPropertyNode{
				{Name: "Category", Children: []*semantic.GroupByPropertyNode{
					{Name: "Name", Expression: f.path(t, "Category/Name")},
				}},
			},
			Child: &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
				{Method: semantic.VirtualPropertyCount, Alias: "Count"},
			}},
		},
	}}
	p, err := BindApply(f.model, clause, f.product, quietSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{"Category/Name", "Count"}, p.Index.Paths())

	rows := anyRows(sampleProducts())
	rows = append(rows, &product{Id: 4, Category: &category{Id: 1, Name: "Tools"}})
	out, err := p.Run(rows)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"Category": map[string]any{"Name": "Tools"}, "Count": int64(2)},
		{"Category": map[string]any{"Name": nil}, "Count": int64(1)},
		{"Category": map[string]any{"Name": "Garden"}, "Count": int64(1)},
	}, toMaps(t, out))
}

func TestPipelineClausesReadAggregatedRows(t *testing.T) {
	m, st := saleModel(t)
	it := semantic.It(st)
	rows := []any{
		&sale{Id: 1, Category: "a", Price: 10},
		&sale{Id: 2, Category: "a", Price: 5},
		&sale{Id: 3, Category: "b", Price: 7},
		&sale{Id: 4, Category: "c", Price: 30},
	}
	total := &semantic.SingleValueOpenPropertyAccessNode{Source: semantic.Ref(it), Name: "Total"}

	clause := &semantic.ApplyClause{Transformations: []semantic.Transformation{
		&semantic.FilterTransformation{Filter: &semantic.FilterClause{
			Expression:    semantic.Binary(semantic.NotEqual, saleProperty(t, m, st, "Id"), semantic.Constant(2)),
			RangeVariable: it,
		}},
		&semantic.GroupByTransformation{
			GroupingProperties: []*semantic.GroupByPropertyNode{
				{Name: "Category", Expression: saleProperty(t, m, st, "Category")},
			},
			Child: &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
				{Expression: saleProperty(t, m, st, "Price"), Method: semantic.Sum, Alias: "Total"},
			}},
		},
		&semantic.FilterTransformation{Filter: &semantic.FilterClause{
			Expression:    semantic.Binary(semantic.GreaterThan, total, semantic.Constant(8)),
			RangeVariable: it,
		}},
	}}
	p, err := BindApply(m, clause, st, quietSettings())
	require.NoError(t, err)
	require.Len(t, p.Stages, 3)
	assert.Equal(t, "filter(($it{Total} > 8))", p.Stages[2].String())

	out, err := p.Run(rows)
	require.NoError(t, err)

	o, err := p.BindOrderBy(&semantic.OrderByClause{Expression: total, Direction: semantic.Descending, RangeVariable: it})
	require.NoError(t, err)
	keys := make([][]any, len(out))
	for i, r := range out {
		keys[i], err = o.KeyValues(r)
		require.NoError(t, err)
	}
	require.Len(t, keys, 2)
	assert.Equal(t, 1, o.CompareKeys(keys[0], keys[1]))
	assert.Equal(t, []map[string]any{
		{"Category": "a", "Total": int64(10)},
		{"Category": "c", "Total": int64(30)},
	}, toMaps(t, out))

	_, err = p.BindFilter(&semantic.FilterClause{
		Expression:    semantic.Binary(semantic.GreaterThan, saleProperty(t, m, st, "Price"), semantic.Constant(1)),
		RangeVariable: it,
	})
	require.Error(t, err)
	assert.True(t, IsUnresolvedPropertyError(err))
}

func TestBindApplyCustomAggregate(t *testing.T) {
	f := newFixture(t)
	reg, err := functions.NewRegistryBuilder().AddAggregate(&expr.AggregateFunc{
		Label:  "product",
		Input:  edm.Int64,
		Return: edm.PrimitiveRef(edm.Int64, false),
		Impl: func(values []any) (any, error) {
			out := int64(1)
			for _, v := range values {
				out *= v.(int64)
			}
			return out, nil
		},
	}).Build()
	require.NoError(t, err)
	s := quietSettings()
	s.Functions = reg

	bind := func(label string) (*Pipeline, error) {
		return BindApply(f.model, &semantic.ApplyClause{Transformations: []semantic.Transformation{
			&semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
				{Expression: f.path(t, "Id"), Method: semantic.Custom, MethodLabel: label, Alias: "Result"},
			}},
		}}, f.product, s)
	}

	p, err := bind("product")
	require.NoError(t, err)
	out, err := p.Run(anyRows(sampleProducts()))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"Result": int64(6)}, out[0].(*record.GroupByWrapper).ToMap())

	_, err = bind("median")
	require.Error(t, err)
	assert.True(t, IsFunctionNotSupportedError(err))
}

func TestBindApplyErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		t     func() semantic.Transformation
		check func(error) bool
	}{
		{
			name: "sum of strings",
			t: func() semantic.Transformation {
				return &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
					{Expression: f.path(t, "Name"), Method: semantic.Sum, Alias: "X"},
				}}
			},
			check: IsFunctionNotSupportedError,
		},
		{
			name: "group by navigation",
			t: func() semantic.Transformation {
				return &semantic.GroupByTransformation{GroupingProperties: []*semantic.GroupByPropertyNode{
					{Name: "Category", Expression: f.path(t, "Category")},
				}}
			},
			check: IsTypeMismatchError,
		},
		{
			name: "missing alias",
			t: func() semantic.Transformation {
				return &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
					{Expression: f.path(t, "Stock"), Method: semantic.Sum},
				}}
			},
			check: IsUnresolvedPropertyError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BindApply(f.model, &semantic.ApplyClause{Transformations: []semantic.Transformation{tt.t()}}, f.product, quietSettings())
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}
