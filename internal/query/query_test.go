package query

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/semantic"
)

type part struct {
	Id     int
	Weight int
}

type item struct {
	Id     int
	Name   string
	Group  string
	Price  int
	Secret string `odata:",notfilterable"`
	Parts  []*part
}

type fixture struct {
	model *edm.Model
	item  *edm.StructuredType
	it    *semantic.RangeVariable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := edm.NewBuilder("Shop").Entity(item{}).Entity(part{}).Build()
	require.NoError(t, err)
	st, ok := m.StructuredType("Shop.item")
	require.True(t, ok)
	return &fixture{model: m, item: st, it: semantic.It(st)}
}

func (f *fixture) path(t *testing.T, p string) semantic.SingleValueNode {
	t.Helper()
	n, err := semantic.ResolvePath(f.model, semantic.Ref(f.it), p)
	require.NoError(t, err)
	return n.(semantic.SingleValueNode)
}

func (f *fixture) priceAbove(t *testing.T, v int) *semantic.FilterClause {
	return &semantic.FilterClause{Expression: semantic.Binary(semantic.GreaterThan, f.path(t, "Price"), semantic.Constant(v))}
}

func quietSettings() binder.Settings {
	s := binder.DefaultSettings()
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

func sampleItems() []*item {
	return []*item{
		{Id: 1, Name: "bolt", Group: "a", Price: 4},
		{Id: 2, Name: "nut", Group: "b", Price: 9},
		{Id: 3, Name: "gear", Group: "a", Price: 9},
		{Id: 4, Name: "axle", Group: "b", Price: 20},
	}
}

func ids(t *testing.T, rows []any) []int {
	t.Helper()
	out := make([]int, len(rows))
	for i, r := range rows {
		it, ok := r.(*item)
		require.True(t, ok, "row %d is %T", i, r)
		out[i] = it.Id
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestQueryIsDeferred(t *testing.T) {
	f := newFixture(t)
	p, err := binder.BindFilter(f.model, f.priceAbove(t, 5), f.item, quietSettings())
	require.NoError(t, err)

	items := sampleItems()
	q := From(items).Where(p)
	items[0].Price = 100

	rows, err := q.Rows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, ids(t, rows))
	assert.Equal(t, "filter", q.String())
}

func TestCombinatorsDoNotShareSteps(t *testing.T) {
	base := From(sampleItems())
	first := base.Take(1)
	rest := base.Skip(1)

	ctx := context.Background()
	all, err := base.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	n, err := first.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := rest.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, ids(t, rows))
	assert.Equal(t, "source", base.String())
	assert.Equal(t, "skip", rest.String())
}

func TestOrderByIsStable(t *testing.T) {
	f := newFixture(t)
	o, err := binder.BindOrderBy(f.model, &semantic.OrderByClause{Expression: f.path(t, "Price")}, f.item, quietSettings())
	require.NoError(t, err)

	items := sampleItems()
	rows, err := From(items).OrderBy(o).Rows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, ids(t, rows))

	desc, err := binder.BindOrderBy(f.model, &semantic.OrderByClause{Expression: f.path(t, "Price"), Direction: semantic.Descending}, f.item, quietSettings())
	require.NoError(t, err)
	rows, err = From(items).OrderBy(desc).Rows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3, 1}, ids(t, rows))

	// The source slice is untouched.
	assert.Equal(t, 1, items[0].Id)
}

func TestSkipAndTake(t *testing.T) {
	tests := []struct {
		name string
		q    func(*Query) *Query
		want []int
	}{
		{name: "skip past the end", q: func(q *Query) *Query { return q.Skip(10) }, want: []int{}},
		{name: "negative skip", q: func(q *Query) *Query { return q.Skip(-1) }, want: []int{1, 2, 3, 4}},
		{name: "take zero", q: func(q *Query) *Query { return q.Take(0) }, want: []int{}},
		{name: "take more than available", q: func(q *Query) *Query { return q.Take(9) }, want: []int{1, 2, 3, 4}},
		{name: "skip then take", q: func(q *Query) *Query { return q.Skip(1).Take(2) }, want: []int{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := tt.q(From(sampleItems())).Rows(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(t, rows))
		})
	}
}

func TestRowsStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := From(sampleItems()).Take(2).Rows(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlanFilterOrderCountAndPage(t *testing.T) {
	f := newFixture(t)
	p, err := Prepare(f.model, f.item, Options{
		Filter:  f.priceAbove(t, 5),
		OrderBy: &semantic.OrderByClause{Expression: f.path(t, "Price"), Direction: semantic.Descending},
		Count:   true,
		Skip:    ptr(1),
		Top:     ptr(1),
	}, quietSettings())
	require.NoError(t, err)

	res, err := p.Execute(context.Background(), anyRows(sampleItems()))
	require.NoError(t, err)
	require.NotNil(t, res.Count)
	assert.Equal(t, int64(3), *res.Count)
	assert.Equal(t, []int{2}, ids(t, res.Rows))
	require.Len(t, res.Items, 1)

	m := res.Maps()[0]
	assert.Equal(t, int64(2), m["Id"])
	assert.Equal(t, "nut", m["Name"])
	assert.NotContains(t, m, "Parts")

	assert.Equal(t, []string{
		"$filter: ($it.Price > 5)",
		"$orderby: $it.Price desc",
		"$count: true",
		"$skip: 1",
		"$top: 1",
	}, p.Explain())
}

func TestPlanSelectExpand(t *testing.T) {
	f := newFixture(t)
	name, ok := f.item.Property("Name")
	require.True(t, ok)
	parts, ok := f.item.Property("Parts")
	require.True(t, ok)

	p, err := Prepare(f.model, f.item, Options{
		SelectExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.PathSelectItem{Property: name},
			&semantic.ExpandedNavigationSelectItem{Navigation: parts, Count: true},
		}},
		Top: ptr(1),
	}, quietSettings())
	require.NoError(t, err)

	items := sampleItems()
	items[0].Parts = []*part{{Id: 7, Weight: 2}}
	res, err := p.Execute(context.Background(), anyRows(items))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{
		"Name":              "bolt",
		"Parts@odata.count": int64(1),
		"Parts":             []any{map[string]any{"Id": int64(7), "Weight": int64(2)}},
	}}, res.Maps())
}

func TestPlanApplyThenOrderBy(t *testing.T) {
	f := newFixture(t)
	total := &semantic.SingleValueOpenPropertyAccessNode{Source: semantic.Ref(f.it), Name: "Total"}
	p, err := Prepare(f.model, f.item, Options{
		Apply: &semantic.ApplyClause{Transformations: []semantic.Transformation{
			&semantic.GroupByTransformation{
				GroupingProperties: []*semantic.GroupByPropertyNode{{Name: "Group", Expression: f.path(t, "Group")}},
				Child: &semantic.AggregateTransformation{Expressions: []*semantic.AggregateExpression{
					{Expression: f.path(t, "Price"), Method: semantic.Sum, Alias: "Total"},
				}},
			},
		}},
		OrderBy: &semantic.OrderByClause{Expression: total, Direction: semantic.Descending},
		Count:   true,
	}, quietSettings())
	require.NoError(t, err)
	assert.Nil(t, p.Projector)

	res, err := p.Execute(context.Background(), anyRows(sampleItems()))
	require.NoError(t, err)
	assert.Equal(t, int64(2), *res.Count)
	assert.Nil(t, res.Items)
	assert.Equal(t, []map[string]any{
		{"Group": "b", "Total": int64(29)},
		{"Group": "a", "Total": int64(13)},
	}, res.Maps())
}

func TestPrepareErrors(t *testing.T) {
	f := newFixture(t)
	name, ok := f.item.Property("Name")
	require.True(t, ok)
	groupBy := &semantic.ApplyClause{Transformations: []semantic.Transformation{
		&semantic.GroupByTransformation{
			GroupingProperties: []*semantic.GroupByPropertyNode{{Name: "Group", Expression: f.path(t, "Group")}},
		},
	}}

	tests := []struct {
		name  string
		opts  Options
		check func(error) bool
	}{
		{
			name: "restricted property",
			opts: Options{Filter: &semantic.FilterClause{
				Expression: semantic.Binary(semantic.Equal, f.path(t, "Secret"), semantic.Constant("x")),
			}},
			check: binder.IsRestrictedError,
		},
		{
			name: "select over grouped rows",
			opts: Options{
				Apply:        groupBy,
				SelectExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{&semantic.PathSelectItem{Property: name}}},
			},
			check: binder.IsUnsupportedError,
		},
		{
			name:  "filter on a property the grouping dropped",
			opts:  Options{Apply: groupBy, Filter: f.priceAbove(t, 1)},
			check: binder.IsUnresolvedPropertyError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(f.model, f.item, tt.opts, quietSettings())
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	_, err := Prepare(nil, f.item, Options{}, quietSettings())
	assert.Error(t, err)
}

func anyRows[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
