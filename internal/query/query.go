package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/projection"
)

// Query is a deferred in-memory query over a slice. Combinators record
// steps and return a new Query; nothing is evaluated until Rows, Count or
// Project is called, and the same Query can be evaluated any number of
// times.
type Query struct {
	source []any
	steps  []step
}

type step struct {
	name string
	run  func(rows []any) ([]any, error)
}

// From starts a query over items.
func From[T any](items []T) *Query {
	rows := make([]any, len(items))
	for i, it := range items {
		rows[i] = it
	}
	return &Query{source: rows}
}

func (q *Query) then(name string, run func(rows []any) ([]any, error)) *Query {
	steps := make([]step, len(q.steps), len(q.steps)+1)
	copy(steps, q.steps)
	return &Query{source: q.source, steps: append(steps, step{name: name, run: run})}
}

// Where keeps the rows p matches.
func (q *Query) Where(p *binder.Predicate) *Query {
	return q.then("filter", func(rows []any) ([]any, error) {
		var out []any
		for i, r := range rows {
			ok, err := p.Match(r)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			if ok {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

// OrderBy sorts rows stably by the keys of o.
func (q *Query) OrderBy(o *binder.Ordering) *Query {
	return q.then("orderby", func(rows []any) ([]any, error) {
		sorted := append([]any(nil), rows...)
		if err := o.Sort(sorted); err != nil {
			return nil, err
		}
		return sorted, nil
	})
}

// Apply runs an $apply pipeline. Later Where and OrderBy steps must be
// bound with the pipeline's BindFilter and BindOrderBy.
func (q *Query) Apply(p *binder.Pipeline) *Query {
	return q.then("apply", p.Run)
}

// Skip drops the first n rows.
func (q *Query) Skip(n int) *Query {
	return q.then("skip", func(rows []any) ([]any, error) {
		return rows[min(max(n, 0), len(rows)):], nil
	})
}

// Take keeps at most n rows.
func (q *Query) Take(n int) *Query {
	return q.then("top", func(rows []any) ([]any, error) {
		if n >= 0 && n < len(rows) {
			return rows[:n], nil
		}
		return rows, nil
	})
}

// Rows evaluates the query. The context is checked between steps.
func (q *Query) Rows(ctx context.Context) ([]any, error) {
	rows := q.source
	for _, s := range q.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if rows, err = s.run(rows); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return rows, nil
}

// Count evaluates the query and returns the number of rows.
func (q *Query) Count(ctx context.Context) (int, error) {
	rows, err := q.Rows(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Project evaluates the query and projects every row with p.
func (q *Query) Project(ctx context.Context, p *projection.Projector) ([]*projection.SelectExpandWrapper, error) {
	rows, err := q.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return p.ProjectAll(rows)
}

// String lists the recorded steps, such as "filter -> orderby -> top".
func (q *Query) String() string {
	if len(q.steps) == 0 {
		return "source"
	}
	names := make([]string, len(q.steps))
	for i, s := range q.steps {
		names[i] = s.name
	}
	return strings.Join(names, " -> ")
}
