package projection

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/semantic"
)

type line struct {
	Id  int
	Qty int
}

type order struct {
	Id     int
	Amount int
	Lines  []*line
}

type bigOrder struct {
	order
	Priority int
}

type address struct {
	City string
	Zip  *string
}

type customer struct {
	Id     int
	Name   string
	Email  *string
	Age    int32
	Active bool
	Home   address
	Orders []*order
	Recent []*order `odata:",pagesize=2"`
	Best   *order
	Extra  map[string]any `odata:",dynamic"`
}

type fixture struct {
	model    *edm.Model
	customer *edm.StructuredType
	order    *edm.StructuredType
	big      *edm.StructuredType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := edm.NewBuilder("Shop").
		Entity(customer{}).
		Entity(order{}).
		Entity(&bigOrder{}).
		Entity(line{}).
		Complex(address{}).
		Build()
	require.NoError(t, err)
	f := &fixture{model: m}
	var ok bool
	f.customer, ok = m.StructuredType("Shop.customer")
	require.True(t, ok)
	f.order, ok = m.StructuredType("Shop.order")
	require.True(t, ok)
	f.big, ok = m.StructuredType("Shop.bigOrder")
	require.True(t, ok)
	return f
}

func (f *fixture) prop(t *testing.T, st *edm.StructuredType, name string) *edm.Property {
	t.Helper()
	p, ok := st.Property(name)
	require.True(t, ok, "no property %s", name)
	return p
}

// orderFilter builds "<path> <op> <n>" over orders.
func (f *fixture) orderFilter(t *testing.T, path string, op semantic.BinaryOperatorKind, n int) *semantic.FilterClause {
	t.Helper()
	it := semantic.It(f.order)
	node, err := semantic.ResolvePath(f.model, semantic.Ref(it), path)
	require.NoError(t, err)
	return &semantic.FilterClause{
		Expression:    semantic.Binary(op, node.(semantic.SingleValueNode), semantic.Constant(n)),
		RangeVariable: it,
	}
}

func quietSettings() binder.Settings {
	s := binder.DefaultSettings()
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

func ptr[T any](v T) *T { return &v }

func sampleCustomer() *customer {
	return &customer{
		Id: 1, Name: "Ann", Email: ptr("ann@example.com"), Age: 41, Active: true,
		Home:   address{City: "Lyon"},
		Orders: []*order{{Id: 100, Amount: 5}, {Id: 200, Amount: 9}, {Id: 300, Amount: 7}},
		Recent: []*order{{Id: 7}, {Id: 8}, {Id: 9}},
		Best:   &order{Id: 200, Amount: 9},
		Extra:  map[string]any{"tier": "gold"},
	}
}

func expanded(t *testing.T, w *SelectExpandWrapper, name string) *ExpandedCollection {
	t.Helper()
	v, ok := w.TryGetPropertyValue(name)
	require.True(t, ok, "%s is not in the wrapper", name)
	c, ok := v.(*ExpandedCollection)
	require.True(t, ok, "%s is %T", name, v)
	return c
}

func ids(t *testing.T, c *ExpandedCollection) []int64 {
	t.Helper()
	var out []int64
	for _, it := range c.Items {
		v, ok := it.TryGetPropertyValue("Id")
		require.True(t, ok)
		out = append(out, v.(int64))
	}
	return out
}

func TestExpandWithNestedFilterAndTop(t *testing.T) {
	f := newFixture(t)
	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.ExpandedNavigationSelectItem{
			Navigation: f.prop(t, f.customer, "Orders"),
			Filter:     f.orderFilter(t, "Id", semantic.GreaterThanOrEqual, 200),
			Top:        ptr(1),
		},
	}}
	p, err := NewProjector(f.model, clause, f.customer, quietSettings())
	require.NoError(t, err)

	w, err := p.Project(sampleCustomer())
	require.NoError(t, err)
	orders := expanded(t, w, "Orders")
	assert.Equal(t, []int64{200}, ids(t, orders))
	assert.False(t, orders.Truncated)
	assert.Nil(t, orders.Count)
}

func TestSelectLimitsTheFieldSet(t *testing.T) {
	f := newFixture(t)
	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.PathSelectItem{Property: f.prop(t, f.customer, "Name")},
	}}
	p, err := NewProjector(f.model, clause, f.customer, quietSettings())
	require.NoError(t, err)

	w, err := p.Project(sampleCustomer())
	require.NoError(t, err)
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, []string{"Name"}, w.Names())

	v, ok := w.TryGetPropertyValue("Name")
	require.True(t, ok)
	assert.Equal(t, "Ann", v)
	_, ok = w.TryGetPropertyValue("Id")
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"Name": "Ann"}, w.ToMap())
}

func TestProjectWithoutSelectExposesEveryProperty(t *testing.T) {
	f := newFixture(t)
	p, err := NewProjector(f.model, nil, f.customer, quietSettings())
	require.NoError(t, err)

	c := sampleCustomer()
	w, err := p.Project(c)
	require.NoError(t, err)
	assert.Same(t, c, w.Instance)
	assert.Empty(t, w.TypeName)
	assert.Equal(t, []string{"Id", "Name", "Email", "Age", "Active", "Home", "tier"}, w.Names())
	assert.Equal(t, 7, w.Len())

	m := w.ToMap()
	assert.Equal(t, int64(41), m["Age"])
	assert.Equal(t, "gold", m["tier"])
	assert.NotContains(t, m, "Orders")
}

func TestSelectNestedAndDynamicProperties(t *testing.T) {
	f := newFixture(t)
	home := f.prop(t, f.customer, "Home")
	city, ok := home.Type.Structured().Property("City")
	require.True(t, ok)

	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.PathSelectItem{Property: home, SelectAndExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.PathSelectItem{Property: city},
		}}},
		&semantic.PathSelectItem{DynamicName: "tier"},
		&semantic.PathSelectItem{DynamicName: "missing"},
	}}
	p, err := NewProjector(f.model, clause, f.customer, quietSettings())
	require.NoError(t, err)

	w, err := p.Project(sampleCustomer())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"Home":    map[string]any{"City": "Lyon"},
		"tier":    "gold",
		"missing": nil,
	}, w.ToMap())
}

func TestExpandPageSize(t *testing.T) {
	f := newFixture(t)
	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.ExpandedNavigationSelectItem{Navigation: f.prop(t, f.customer, "Orders"), Count: true},
		&semantic.ExpandedNavigationSelectItem{Navigation: f.prop(t, f.customer, "Recent")},
	}}

	tests := []struct {
		name      string
		pageSize  int
		orders    []int64
		truncated bool
	}{
		{"no default page size", 0, []int64{100, 200, 300}, false},
		{"default page size", 2, []int64{100, 200}, true},
		{"page size larger than collection", 10, []int64{100, 200, 300}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := quietSettings()
			s.PageSize = tt.pageSize
			p, err := NewProjector(f.model, clause, f.customer, s)
			require.NoError(t, err)

			w, err := p.Project(sampleCustomer())
			require.NoError(t, err)

			orders := expanded(t, w, "Orders")
			assert.Equal(t, tt.orders, ids(t, orders))
			assert.Equal(t, tt.truncated, orders.Truncated)
			require.NotNil(t, orders.Count)
			assert.Equal(t, int64(3), *orders.Count)
			assert.Equal(t, int64(3), w.ToMap()["Orders@odata.count"])

			// The property's own page size wins over the default.
			recent := expanded(t, w, "Recent")
			assert.Equal(t, []int64{7, 8}, ids(t, recent))
			assert.True(t, recent.Truncated)
		})
	}
}

func TestExpandOrderingAndSkip(t *testing.T) {
	f := newFixture(t)
	it := semantic.It(f.order)
	amount, err := semantic.ResolvePath(f.model, semantic.Ref(it), "Amount")
	require.NoError(t, err)

	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.ExpandedNavigationSelectItem{
			Navigation: f.prop(t, f.customer, "Orders"),
			OrderBy: &semantic.OrderByClause{
				Expression:    amount.(semantic.SingleValueNode),
				Direction:     semantic.Descending,
				RangeVariable: it,
			},
			Skip: ptr(1),
		},
	}}
	p, err := NewProjector(f.model, clause, f.customer, quietSettings())
	require.NoError(t, err)

	c := sampleCustomer()
	w, err := p.Project(c)
	require.NoError(t, err)
	assert.Equal(t, []int64{300, 100}, ids(t, expanded(t, w, "Orders")))
	assert.Equal(t, []int{100, 200, 300}, []int{c.Orders[0].Id, c.Orders[1].Id, c.Orders[2].Id})
}

func TestExpandSingleNavigation(t *testing.T) {
	f := newFixture(t)
	amount := f.prop(t, f.order, "Amount")
	clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
		&semantic.PathSelectItem{Property: f.prop(t, f.customer, "Id")},
		&semantic.ExpandedNavigationSelectItem{
			Navigation: f.prop(t, f.customer, "Best"),
			SelectAndExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{
				&semantic.PathSelectItem{Property: amount},
			}},
		},
	}}
	p, err := NewProjector(f.model, clause, f.customer, quietSettings())
	require.NoError(t, err)

	out, err := p.ProjectAll([]any{sampleCustomer(), &customer{Id: 2}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"Id": int64(1), "Best": map[string]any{"Amount": int64(9)}}, out[0].ToMap())
	assert.Equal(t, map[string]any{"Id": int64(2), "Best": nil}, out[1].ToMap())
}

func TestProjectDerivedInstance(t *testing.T) {
	f := newFixture(t)
	big := &bigOrder{order: order{Id: 2, Amount: 50}, Priority: 3}

	p, err := NewProjector(f.model, nil, f.order, quietSettings())
	require.NoError(t, err)
	w, err := p.Project(big)
	require.NoError(t, err)
	assert.Equal(t, "Shop.bigOrder", w.TypeName)
	m := w.ToMap()
	assert.Equal(t, "#Shop.bigOrder", m[edm.TypeAnnotation])
	assert.Equal(t, int64(3), m["Priority"])
	assert.Equal(t, int64(2), m["Id"])
}

func TestProjectorValidation(t *testing.T) {
	f := newFixture(t)
	orders := f.prop(t, f.customer, "Orders")
	lines := f.prop(t, f.order, "Lines")

	t.Run("top above the cap", func(t *testing.T) {
		s := quietSettings()
		s.MaxTop = 5
		clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.ExpandedNavigationSelectItem{Navigation: orders, Top: ptr(10)},
		}}
		p, err := NewProjector(f.model, clause, f.customer, s)
		require.Error(t, err)
		assert.Nil(t, p)
		assert.True(t, IsPageSizeError(err))

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "Orders", ve.Path)
		assert.Equal(t, 5, ve.Limit)
		assert.Equal(t, 10, ve.Actual)
	})

	t.Run("top at the cap", func(t *testing.T) {
		s := quietSettings()
		s.MaxTop = 5
		clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.ExpandedNavigationSelectItem{Navigation: orders, Top: ptr(5)},
		}}
		_, err := NewProjector(f.model, clause, f.customer, s)
		require.NoError(t, err)
	})

	t.Run("negative page options", func(t *testing.T) {
		tests := []struct {
			name string
			item *semantic.ExpandedNavigationSelectItem
		}{
			{"skip", &semantic.ExpandedNavigationSelectItem{Navigation: orders, Skip: ptr(-1)}},
			{"top", &semantic.ExpandedNavigationSelectItem{Navigation: orders, Top: ptr(-2)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{tt.item}}
				p, err := NewProjector(f.model, clause, f.customer, quietSettings())
				require.Error(t, err)
				assert.Nil(t, p)
				assert.True(t, IsPageOptionError(err))
				assert.False(t, IsPageSizeError(err))

				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "Orders", ve.Path)
				assert.Negative(t, ve.Actual)
			})
		}
	})

	t.Run("zero skip projects every element", func(t *testing.T) {
		clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.ExpandedNavigationSelectItem{Navigation: orders, Skip: ptr(0)},
		}}
		p, err := NewProjector(f.model, clause, f.customer, quietSettings())
		require.NoError(t, err)

		var w *SelectExpandWrapper
		require.NotPanics(t, func() {
			w, err = p.Project(&customer{Orders: []*order{{Id: 1}, {Id: 2}}})
		})
		require.NoError(t, err)
		v, ok := w.TryGetPropertyValue("Orders")
		require.True(t, ok)
		assert.Len(t, v.(*ExpandedCollection).Items, 2)
	})

	t.Run("expansion too deep", func(t *testing.T) {
		s := quietSettings()
		s.MaxExpansionDepth = 1
		clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.ExpandedNavigationSelectItem{
				Navigation: orders,
				SelectAndExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{
					&semantic.ExpandedNavigationSelectItem{Navigation: lines},
				}},
			},
		}}
		_, err := NewProjector(f.model, clause, f.customer, s)
		require.Error(t, err)
		assert.True(t, IsExpansionDepthError(err))
		assert.False(t, IsPageSizeError(err))

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "Orders/Lines", ve.Path)
		assert.Equal(t, 2, ve.Actual)

		s.MaxExpansionDepth = 2
		_, err = NewProjector(f.model, clause, f.customer, s)
		require.NoError(t, err)
	})

	t.Run("nested filter that does not bind", func(t *testing.T) {
		it := semantic.It(f.order)
		clause := &semantic.SelectExpandClause{Items: []semantic.SelectItem{
			&semantic.ExpandedNavigationSelectItem{
				Navigation: orders,
				Filter: &semantic.FilterClause{
					Expression:    semantic.Call("soundex", semantic.Ref(it)),
					RangeVariable: it,
				},
			},
		}}
		_, err := NewProjector(f.model, clause, f.customer, quietSettings())
		require.Error(t, err)
		assert.True(t, binder.IsFunctionNotSupportedError(err))
	})
}
