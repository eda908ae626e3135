package binder

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/semantic"
)

type color int32

const (
	red   color = 0
	item2 color = 2
)

type category struct {
	Id   int
	Name string
}

type review struct {
	Id    int
	Stars int
}

type product struct {
	Id       int
	Name     *string
	Code     string `odata:",notfilterable,notsortable"`
	Price    decimal.Decimal
	Rating   *float64
	Stock    int32
	Color    color
	Released edm.LocalDate
	Updated  time.Time
	Category *category
	Tags     []string
	Data     []byte
	Reviews  []*review      `odata:",notexpandable,notcountable"`
	Extra    map[string]any `odata:",dynamic"`
}

type fixture struct {
	model   *edm.Model
	product *edm.StructuredType
	it      *semantic.RangeVariable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := edm.NewBuilder("Shop").
		Enum(color(0), false, edm.EnumMember{Name: "Red", Value: 0}, edm.EnumMember{Name: "Item2", Value: 2}).
		Entity(product{}).
		Entity(category{}).
		Entity(review{}).
		Build()
	require.NoError(t, err)
	st, ok := m.StructuredType("Shop.product")
	require.True(t, ok)
	return &fixture{model: m, product: st, it: semantic.It(st)}
}

func (f *fixture) path(t *testing.T, p string) semantic.SingleValueNode {
	t.Helper()
	n, err := semantic.ResolvePath(f.model, semantic.Ref(f.it), p)
	require.NoError(t, err)
	sv, ok := n.(semantic.SingleValueNode)
	require.True(t, ok, "%s is not single-valued", p)
	return sv
}

func (f *fixture) collection(t *testing.T, p string) semantic.CollectionNode {
	t.Helper()
	n, err := semantic.ResolvePath(f.model, semantic.Ref(f.it), p)
	require.NoError(t, err)
	c, ok := n.(semantic.CollectionNode)
	require.True(t, ok, "%s is not a collection", p)
	return c
}

func (f *fixture) filter(s Settings, body semantic.SingleValueNode) (*Predicate, error) {
	return BindFilter(f.model, &semantic.FilterClause{Expression: body, RangeVariable: f.it}, f.product, s)
}

func quietSettings() Settings {
	s := DefaultSettings()
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

func ptr[T any](v T) *T { return &v }

func sampleProducts() []*product {
	return []*product{
		{
			Id: 1, Name: ptr("Hammer"), Price: decimal.NewFromInt(12), Rating: ptr(4.5), Stock: 3, Color: item2,
			Released: edm.LocalDate{Year: 2024, Month: time.March, Day: 1},
			Updated:  time.Date(2024, time.March, 1, 22, 0, 0, 0, time.UTC),
			Category: &category{Id: 1, Name: "Tools"},
			Tags:     []string{"new", "sale"},
			Data:     []byte{0x01, 0x02},
			Extra:    map[string]any{"Score": 7},
		},
		{
			Id: 2, Price: decimal.RequireFromString("2.5"), Stock: 40, Color: red,
			Released: edm.LocalDate{Year: 2024, Month: time.March, Day: 1},
			Updated:  time.Date(2024, time.March, 2, 3, 0, 0, 0, time.UTC),
			Extra:    map[string]any{"Score": 2.5},
		},
		{
			Id: 3, Name: ptr("Wrench"), Price: decimal.NewFromInt(30), Rating: ptr(3.0), Stock: 0, Color: red,
			Released: edm.LocalDate{Year: 2023, Month: time.December, Day: 24},
			Updated:  time.Date(2024, time.January, 5, 9, 30, 0, 0, time.UTC),
			Category: &category{Id: 2, Name: "Garden"},
			Tags:     []string{"sale"},
			Data:     []byte{0x03},
		},
	}
}

// matchIDs returns the ids of rows matching p, failing the test on errors.
func matchIDs(t *testing.T, p *Predicate, rows []*product) []int {
	t.Helper()
	var ids []int
	for _, r := range rows {
		ok, err := p.Match(r)
		require.NoError(t, err)
		if ok {
			ids = append(ids, r.Id)
		}
	}
	return ids
}
