package binder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/semantic"
)

func TestValidateRestrictions(t *testing.T) {
	f := newFixture(t)
	code := func() semantic.SingleValueNode { return f.path(t, "Code") }
	prop := func(name string) *semantic.PathSelectItem {
		p, ok := f.product.Property(name)
		require.True(t, ok)
		return &semantic.PathSelectItem{Property: p}
	}
	reviews, ok := f.product.Property("Reviews")
	require.True(t, ok)

	tests := []struct {
		name    string
		clauses Clauses
		want    []string
	}{
		{
			name: "unrestricted",
			clauses: Clauses{
				Filter:  &semantic.FilterClause{Expression: semantic.Binary(semantic.Equal, f.path(t, "Id"), semantic.Constant(1))},
				OrderBy: &semantic.OrderByClause{Expression: f.path(t, "Name")},
			},
		},
		{
			name: "filter on a property that is not filterable",
			clauses: Clauses{
				Filter: &semantic.FilterClause{Expression: semantic.Binary(semantic.Equal, code(), semantic.Constant("x"))},
			},
			want: []string{"not filterable"},
		},
		{
			name: "every violation is reported once",
			clauses: Clauses{
				Filter: &semantic.FilterClause{Expression: semantic.Binary(semantic.Or,
					semantic.Binary(semantic.Equal, code(), semantic.Constant("x")),
					semantic.Binary(semantic.Equal, code(), semantic.Constant("y")))},
				OrderBy: &semantic.OrderByClause{Expression: f.path(t, "Name"), ThenBy: &semantic.OrderByClause{Expression: code()}},
			},
			want: []string{"not filterable", "not sortable"},
		},
		{
			name: "count of a collection that is not countable",
			clauses: Clauses{
				Filter: &semantic.FilterClause{Expression: semantic.Binary(semantic.GreaterThan,
					&semantic.CountNode{Source: f.collection(t, "Reviews")}, semantic.Constant(0))},
			},
			want: []string{"not countable"},
		},
		{
			name: "filter inside apply",
			clauses: Clauses{
				Apply: &semantic.ApplyClause{Transformations: []semantic.Transformation{
					&semantic.FilterTransformation{Filter: &semantic.FilterClause{
						Expression: semantic.Call("startswith", code(), semantic.Constant("A")),
					}},
				}},
			},
			want: []string{"not filterable"},
		},
		{
			name: "expansion",
			clauses: Clauses{
				SelectExpand: &semantic.SelectExpandClause{Items: []semantic.SelectItem{
					prop("Name"),
					&semantic.ExpandedNavigationSelectItem{Navigation: reviews, Count: true},
				}},
			},
			want: []string{"not expandable", "not countable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRestrictions(f.model, tt.clauses)
			var got []string
			for _, err := range errs {
				assert.True(t, IsRestrictedError(err))
				got = append(got, err.Details["restriction"])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
