package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/queryir"
	"github.com/roach88/querybind/internal/querysql"
	"github.com/roach88/querybind/internal/scenario"
	"github.com/roach88/querybind/internal/semantic"
	"github.com/roach88/querybind/internal/store"
)

// SQLTranslation is a query lowered to SQLite.
type SQLTranslation struct {
	Query  string
	Params []any

	// CountQuery is set when the query asked for a count.
	CountQuery  string
	CountParams []any

	table *queryir.Table
	sel   *queryir.Select
	count *queryir.Count
}

// TranslateSQL binds q for the SQL target and compiles it for SQLite.
// $select may name columns of the table. Queries with $apply or $expand,
// and queries whose bound expressions leave the portable fragment, fail
// with an UNSUPPORTED_CONSTRUCT compile error.
func (h *Harness) TranslateSQL(c *scenario.Compiled, q scenario.CompiledQuery) (*SQLTranslation, error) {
	settings, err := h.Settings(c)
	if err != nil {
		return nil, err
	}
	settings.Target = binder.TargetSQL

	if q.Options.Apply != nil {
		return nil, binder.NewUnsupportedError("sql", "$apply")
	}
	t := &SQLTranslation{table: queryir.TableOf(c.Entity)}
	columns, err := selectedColumns(t.table, q.Options.SelectExpand)
	if err != nil {
		return nil, err
	}
	if violations := binder.ValidateRestrictions(c.Model, binder.Clauses{
		Filter:  q.Options.Filter,
		OrderBy: q.Options.OrderBy,
	}); len(violations) > 0 {
		errs := make([]error, len(violations))
		for i, v := range violations {
			errs[i] = v
		}
		return nil, errors.Join(errs...)
	}

	var filter *binder.Predicate
	if q.Options.Filter != nil {
		if filter, err = binder.BindFilter(c.Model, q.Options.Filter, c.Entity, settings); err != nil {
			return nil, fmt.Errorf("bind $filter: %w", err)
		}
	}
	var order *binder.Ordering
	if q.Options.OrderBy != nil {
		if order, err = binder.BindOrderBy(c.Model, q.Options.OrderBy, c.Entity, settings); err != nil {
			return nil, fmt.Errorf("bind $orderby: %w", err)
		}
	}

	if t.sel, err = queryir.NewSelect(t.table, filter, order); err != nil {
		return nil, err
	}
	t.sel.Columns = columns
	t.sel.Limit, t.sel.Offset = q.Options.Top, q.Options.Skip

	compiler := querysql.NewSQLCompiler()
	if t.Query, t.Params, err = compiler.Compile(t.sel); err != nil {
		return nil, err
	}
	if q.Options.Count {
		if t.count, err = queryir.NewCount(t.table, filter); err != nil {
			return nil, err
		}
		if t.CountQuery, t.CountParams, err = compiler.Compile(t.count); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// selectedColumns maps a $select of plain columns to table columns. A nil
// clause or a wildcard selects every column.
func selectedColumns(table *queryir.Table, clause *semantic.SelectExpandClause) ([]queryir.Column, error) {
	if clause == nil {
		return nil, nil
	}
	var columns []queryir.Column
	all := false
	for _, item := range clause.Items {
		switch item := item.(type) {
		case *semantic.WildcardSelectItem:
			all = true
		case *semantic.PathSelectItem:
			if item.Property == nil || item.SelectAndExpand != nil {
				return nil, binder.NewUnsupportedError("sql", "$select of a nested or dynamic property")
			}
			col, ok := table.Column(item.Property)
			if !ok {
				return nil, binder.NewUnsupportedError("sql", "$select of "+item.Property.Name)
			}
			columns = append(columns, col)
		default:
			return nil, binder.NewUnsupportedError("sql", "$expand")
		}
	}
	if all {
		return nil, nil
	}
	return columns, nil
}

// ExecuteSQL loads the rows of c into a fresh in-memory store and runs t.
// The outcome rows hold the selected columns only.
func (h *Harness) ExecuteSQL(ctx context.Context, c *scenario.Compiled, name string, t *SQLTranslation) (*Outcome, error) {
	st, err := store.Open(":memory:", store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTable(ctx, t.table); err != nil {
		return nil, err
	}
	if _, err := st.Insert(ctx, t.table, c.Rows); err != nil {
		return nil, err
	}

	rows, err := st.Select(ctx, t.sel)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Query: name, Explain: []string{"sql: " + t.Query}, Rows: make([]map[string]any, len(rows))}
	for i, r := range rows {
		out.Rows[i] = r
	}
	if t.count != nil {
		n, err := st.Count(ctx, t.count)
		if err != nil {
			return nil, err
		}
		out.Count = &n
	}
	return out, nil
}
