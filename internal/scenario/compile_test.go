package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/semantic"
)

// compileQueries parses a scenario over testdata/shop.cue with the given
// queries and compiles it.
func compileQueries(t *testing.T, queries string) (*Compiled, error) {
	t.Helper()
	s, err := Parse([]byte("name: t\nmodel_file: shop.cue\nentity: Gadget\nqueries:\n"+queries), "testdata")
	require.NoError(t, err)
	return Compile(s)
}

func TestCompileFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   string
	}{
		{"comparison", "{op: gt, left: {path: Price}, right: {const: 10}}", "(Price gt 10)"},
		{"string literal", "{op: eq, left: {path: Name}, right: {const: \"O'Brien\"}}", "(Name eq 'O''Brien')"},
		{"null", "{op: ne, left: {path: Name}, right: {null: true}}", "(Name ne null)"},
		{"navigation path", "{op: eq, left: {path: Maker/Name}, right: {const: Acme}}", "(Maker/Name eq 'Acme')"},
		{"complex path", "{op: gt, left: {path: Size/Width}, right: {const: 3}}", "(Size/Width gt 3)"},
		{"dynamic property", "{op: eq, left: {path: Finish}, right: {const: matte}}", "(Finish eq 'matte')"},
		{"typed enum constant", "{op: eq, left: {path: Color}, right: {const: blue, type: Color}}", "(Color eq 2)"},
		{"typed decimal constant", "{op: lt, left: {path: Price}, right: {const: \"9.50\", type: Edm.Decimal}}", "(Price lt 9.5)"},
		{"not", "{not: {op: eq, left: {path: Id}, right: {const: 1}}}", "not (Id eq 1)"},
		{"negate", "{op: lt, left: {neg: {path: Price}}, right: {const: 0}}", "(-Price lt 0)"},
		{"function", "{call: startswith, args: [{path: Name}, {const: b}]}", "startswith(Name,'b')"},
		{"cast", "{call: cast, args: [{path: Id}, {typename: Edm.Int64}]}", "cast(Id,Edm.Int64)"},
		{"in list", "{in: {path: Id}, list: [{const: 1}, {const: 2}]}", "Id in (1,2)"},
		{"in collection", "{in: {const: iron}, right: {path: Tags}}", "'iron' in Tags"},
		{"any", "{any: {source: {path: Tags}, var: t, body: {op: eq, left: {var: t}, right: {const: iron}}}}", "Tags/any(t:(t eq 'iron'))"},
		{"any without body", "{any: {source: {path: Parts}}}", "Parts/any()"},
		{"all over navigation", "{all: {source: {path: Parts}, var: p, body: {op: gt, left: {path: Id, of: p}, right: {const: 0}}}}", "Parts/all(p:(p/Id gt 0))"},
		{"count", "{op: gt, left: {count: {source: {path: Tags}}}, right: {const: 1}}", "(Tags/$count gt 1)"},
		{"filtered count", "{op: eq, left: {count: {source: {path: Parts}, var: p, filter: {op: eq, left: {path: Id, of: p}, right: {const: 3}}}}, right: {const: 1}}", "(Parts/$count($filter=(p/Id eq 3)) eq 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := compileQueries(t, "  - name: q\n    filter: "+tt.filter+"\n")
			require.NoError(t, err)
			f := c.Queries[0].Options.Filter
			require.NotNil(t, f)
			assert.Equal(t, tt.want, semantic.Format(f.Expression))
			assert.Equal(t, "$it", f.RangeVariable.Name)
		})
	}
}

func TestCompileLambdaVariablesAreScoped(t *testing.T) {
	_, err := compileQueries(t, `  - name: q
    filter:
      op: and
      left: {any: {source: {path: Tags}, var: t, body: {op: eq, left: {var: t}, right: {const: a}}}}
      right: {op: eq, left: {var: t}, right: {const: b}}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "t" is not in scope`)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"unresolved property", "filter: {op: eq, left: {path: Maker/Nope}, right: {const: 1}}", `has no property "Nope"`},
		{"unknown operator", "filter: {op: like, left: {path: Id}, right: {const: 1}}", `unknown operator "like"`},
		{"unknown type", "filter: {op: eq, left: {path: Id}, right: {const: 1, type: Edm.Nope}}", `unknown type "Edm.Nope"`},
		{"bad typed constant", "filter: {op: eq, left: {path: Color}, right: {const: purple, type: Color}}", "constant purple"},
		{"collection where single expected", "filter: {op: eq, left: {path: Tags}, right: {const: a}}", "is a collection"},
		{"lambda over single value", "filter: {any: {source: {path: Name}}}", "is not a collection"},
		{"non-literal in list", "filter: {in: {path: Id}, list: [{path: Id}]}", "in list item 0 is not a literal"},
		{"select unknown", "select: [Nope/Deeper]", `has no property "Nope"`},
		{"select into primitive", "select: [Name/Length]", "Name is not a complex property"},
		{"expand non-navigation", "expand: [{path: Size}]", `has no navigation property "Size"`},
		{"expand unknown cast", "expand: [{path: Parts, cast: Shop.Nope}]", `unknown type "Shop.Nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileQueries(t, "  - name: q\n    "+tt.query+"\n")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "query q")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileModelErrors(t *testing.T) {
	s, err := Parse([]byte("name: t\nmodel: \"entities: {\"\nentity: Gadget\nqueries: [{name: q}]\n"), "")
	require.NoError(t, err)
	_, err = Compile(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model")

	s, err = Parse([]byte("name: t\nmodel_file: shop.cue\nentity: Widget\nqueries: [{name: q}]\n"), "testdata")
	require.NoError(t, err)
	_, err = Compile(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entity "Widget"`)

	s, err = Parse([]byte("name: t\nmodel_file: missing.cue\nentity: Gadget\nqueries: [{name: q}]\n"), "testdata")
	require.NoError(t, err)
	_, err = Compile(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read model")
}

func TestCompileOrderBy(t *testing.T) {
	c, err := compileQueries(t, `  - name: q
    orderby:
      - {path: Price, desc: true}
      - {path: Maker/Name}
      - {call: length, args: [{path: Name}]}
    skip: 2
    top: 5
    count: true
`)
	require.NoError(t, err)

	opts := c.Queries[0].Options
	require.NotNil(t, opts.OrderBy)
	assert.Equal(t, "Price desc,Maker/Name,length(Name)", semantic.FormatOrderBy(opts.OrderBy))
	assert.Equal(t, 2, *opts.Skip)
	assert.Equal(t, 5, *opts.Top)
	assert.True(t, opts.Count)
	assert.Nil(t, opts.Filter)
	assert.Nil(t, opts.Apply)
	assert.Nil(t, opts.SelectExpand)
}

func TestCompileApply(t *testing.T) {
	c, err := compileQueries(t, `  - name: q
    apply:
      - filter: {op: gt, left: {path: Price}, right: {const: 1}}
      - groupby: [Color, Maker/Name, Maker/Id]
        aggregate:
          - {expr: {path: Price}, with: sum, as: Total}
          - {with: $count, as: N}
          - {expr: {path: Price}, with: median, as: Mid}
      - aggregate:
          - {expr: {path: Total}, with: max, as: Best}
    filter: {op: gt, left: {path: Best}, right: {const: 0}}
    orderby:
      - {path: Best, desc: true}
`)
	require.NoError(t, err)

	opts := c.Queries[0].Options
	require.NotNil(t, opts.Apply)
	require.Len(t, opts.Apply.Transformations, 3)

	_, isFilter := opts.Apply.Transformations[0].(*semantic.FilterTransformation)
	assert.True(t, isFilter)

	g, ok := opts.Apply.Transformations[1].(*semantic.GroupByTransformation)
	require.True(t, ok)
	require.Len(t, g.GroupingProperties, 2)
	assert.Equal(t, "Color", g.GroupingProperties[0].Name)
	assert.NotNil(t, g.GroupingProperties[0].Expression)
	maker := g.GroupingProperties[1]
	assert.Equal(t, "Maker", maker.Name)
	assert.Nil(t, maker.Expression)
	require.Len(t, maker.Children, 2)
	assert.Equal(t, "Name", maker.Children[0].Name)
	assert.Equal(t, "Id", maker.Children[1].Name)
	assert.Equal(t, "Maker/Id", semantic.Format(maker.Children[1].Expression))

	require.NotNil(t, g.Child)
	require.Len(t, g.Child.Expressions, 3)
	assert.Equal(t, semantic.Sum, g.Child.Expressions[0].Method)
	assert.Equal(t, semantic.VirtualPropertyCount, g.Child.Expressions[1].Method)
	assert.Nil(t, g.Child.Expressions[1].Expression)
	assert.Equal(t, semantic.Custom, g.Child.Expressions[2].Method)
	assert.Equal(t, "median", g.Child.Expressions[2].MethodLabel)

	// Later stages and clauses read the aggregated rows.
	agg, ok := opts.Apply.Transformations[2].(*semantic.AggregateTransformation)
	require.True(t, ok)
	_, open := agg.Expressions[0].Expression.(*semantic.SingleValueOpenPropertyAccessNode)
	assert.True(t, open)
	_, open = opts.Filter.Expression.(*semantic.BinaryOperatorNode).Left.(*semantic.SingleValueOpenPropertyAccessNode)
	assert.True(t, open)
	assert.Equal(t, "Best desc", semantic.FormatOrderBy(opts.OrderBy))
}

func TestCompileSelectExpand(t *testing.T) {
	c, err := compileQueries(t, `  - name: q
    select: [Id, Size/Width, Finish, "*"]
    expand:
      - path: Parts
        select: [Name]
        filter: {op: gt, left: {path: Id}, right: {const: 1}}
        orderby:
          - {path: Name}
        skip: 1
        top: 2
        count: true
      - path: Maker
`)
	require.NoError(t, err)

	clause := c.Queries[0].Options.SelectExpand
	require.NotNil(t, clause)
	require.Len(t, clause.Items, 6)

	id := clause.Items[0].(*semantic.PathSelectItem)
	assert.Equal(t, "Id", id.Property.Name)
	assert.Nil(t, id.SelectAndExpand)

	size := clause.Items[1].(*semantic.PathSelectItem)
	assert.Equal(t, "Size", size.Property.Name)
	require.NotNil(t, size.SelectAndExpand)
	assert.Equal(t, "Width", size.SelectAndExpand.Items[0].(*semantic.PathSelectItem).Property.Name)

	dyn := clause.Items[2].(*semantic.PathSelectItem)
	assert.Nil(t, dyn.Property)
	assert.Equal(t, "Finish", dyn.DynamicName)

	_, wildcard := clause.Items[3].(*semantic.WildcardSelectItem)
	assert.True(t, wildcard)

	parts := clause.Items[4].(*semantic.ExpandedNavigationSelectItem)
	assert.Equal(t, "Parts", parts.Navigation.Name)
	assert.Equal(t, 1, *parts.Skip)
	assert.Equal(t, 2, *parts.Top)
	assert.True(t, parts.Count)
	require.NotNil(t, parts.Filter)
	assert.Equal(t, "(Id gt 1)", semantic.Format(parts.Filter.Expression))
	assert.Equal(t, "Shop.Maker", parts.Filter.RangeVariable.Type.Structured().FullName())
	assert.Equal(t, "Name", semantic.FormatOrderBy(parts.OrderBy))
	require.NotNil(t, parts.SelectAndExpand)
	assert.Len(t, parts.SelectAndExpand.Items, 1)

	maker := clause.Items[5].(*semantic.ExpandedNavigationSelectItem)
	assert.Equal(t, "Maker", maker.Navigation.Name)
	assert.Nil(t, maker.SelectAndExpand)
	assert.Nil(t, maker.Filter)
}
