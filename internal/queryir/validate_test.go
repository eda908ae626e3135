package queryir

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

type owner struct {
	Id   int
	Name string
}

type site struct {
	Id       int
	Name     *string
	Location orb.Point
	Owner    *owner
	Aliases  []string
}

func siteTable(t *testing.T) *Table {
	t.Helper()
	m, err := edm.NewBuilder("Geo").Entity(site{}).Entity(owner{}).Build()
	require.NoError(t, err)
	st, ok := m.StructuredType("Geo.site")
	require.True(t, ok)
	return TableOf(st)
}

func prop(t *testing.T, tbl *Table, name string) *edm.Property {
	t.Helper()
	p, ok := tbl.Type.Property(name)
	require.True(t, ok, "no property %s", name)
	return p
}

func member(src expr.Expr, p *edm.Property) *expr.Member {
	return &expr.Member{Source: src, Property: p, T: p.Type}
}

func eq(l, r expr.Expr) *expr.Binary {
	return &expr.Binary{Op: expr.OpEq, Left: l, Right: r, T: edm.PrimitiveRef(edm.Boolean, true), LiftToNull: true}
}

func TestTableOfSkipsNonColumns(t *testing.T) {
	tbl := siteTable(t)
	assert.Equal(t, "site", tbl.Name)

	var names []string
	for _, c := range tbl.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Id", "Name", "Location"}, names)

	_, ok := tbl.Column(prop(t, tbl, "Aliases"))
	assert.False(t, ok)
	c, ok := tbl.Column(prop(t, tbl, "Name"))
	require.True(t, ok)
	assert.Equal(t, "Name", c.Name)
}

func TestValidate(t *testing.T) {
	tbl := siteTable(t)
	it := &expr.Parameter{Name: "$it", T: edm.NewTypeRef(tbl.Type, false)}
	name := member(it, prop(t, tbl, "Name"))
	str := func(s string) *expr.Constant { return &expr.Constant{Value: s, T: edm.PrimitiveRef(edm.String, false)} }

	ownerType := prop(t, tbl, "Owner").Type.Structured()
	require.NotNil(t, ownerType)
	ownerName, ok := ownerType.Property("Name")
	require.True(t, ok)

	tests := []struct {
		name     string
		where    expr.Expr
		portable bool
		warnings int
	}{
		{name: "column comparison", where: eq(name, str("x")), portable: true},
		{name: "no filter", portable: true},
		{
			name:     "navigation",
			where:    eq(member(member(it, prop(t, tbl, "Owner")), ownerName), str("x")),
			warnings: 1,
		},
		{
			name:     "geography column",
			where:    eq(member(it, prop(t, tbl, "Location")), member(it, prop(t, tbl, "Location"))),
			warnings: 1,
		},
		{
			name:     "dynamic property",
			where:    eq(&expr.DynamicMember{Source: it, Name: "Extra"}, str("x")),
			warnings: 1,
		},
		{
			name:     "collection count",
			where:    &expr.Binary{Op: expr.OpGt, Left: &expr.Count{Source: member(it, prop(t, tbl, "Aliases"))}, Right: &expr.Constant{Value: int64(0), T: edm.PrimitiveRef(edm.Int64, false)}, T: edm.PrimitiveRef(edm.Boolean, false)},
			warnings: 1,
		},
		{
			name:     "repeated construct is reported once",
			where:    &expr.Binary{Op: expr.OpOr, Left: eq(&expr.DynamicMember{Source: it, Name: "Extra"}, str("x")), Right: eq(&expr.DynamicMember{Source: it, Name: "Extra"}, str("y")), T: edm.PrimitiveRef(edm.Boolean, true)},
			warnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(&Select{From: tbl, Where: tt.where})
			assert.Equal(t, tt.portable, res.IsPortable)
			assert.Len(t, res.Warnings, tt.warnings)

			res = Validate(&Count{From: tbl, Where: tt.where})
			assert.Equal(t, tt.portable, res.IsPortable)
		})
	}
}

func TestValidateOrderKeys(t *testing.T) {
	tbl := siteTable(t)
	it := &expr.Parameter{Name: "$it", T: edm.NewTypeRef(tbl.Type, false)}

	res := Validate(&Select{From: tbl, OrderBy: []OrderTerm{{Key: it}}})
	assert.False(t, res.IsPortable)
	assert.Contains(t, res.Warnings[0], "$it")

	res = Validate(&Select{From: tbl, OrderBy: []OrderTerm{{Key: member(it, prop(t, tbl, "Id")), Descending: true}}})
	assert.True(t, res.IsPortable)
}

func TestValidateRejectsMissingTable(t *testing.T) {
	assert.False(t, Validate(&Select{}).IsPortable)
	assert.False(t, Validate(&Count{}).IsPortable)
	assert.False(t, Validate(nil).IsPortable)

	_, err := NewSelect(nil, nil, nil)
	assert.Error(t, err)
	_, err = NewCount(nil, nil)
	assert.Error(t, err)
}
