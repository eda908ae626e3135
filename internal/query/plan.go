package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/projection"
	"github.com/roach88/querybind/internal/record"
	"github.com/roach88/querybind/internal/semantic"
)

// Options are the clauses of one request against the in-memory provider.
type Options struct {
	Filter       *semantic.FilterClause
	OrderBy      *semantic.OrderByClause
	Apply        *semantic.ApplyClause
	SelectExpand *semantic.SelectExpandClause
	Skip         *int
	Top          *int

	// Count requests the number of rows after $apply and $filter, before
	// $skip and $top.
	Count bool
}

// Plan is a request whose clauses are validated and bound. It holds no
// rows and may be executed against any number of sources.
type Plan struct {
	Pipeline  *binder.Pipeline
	Filter    *binder.Predicate
	OrderBy   *binder.Ordering
	Projector *projection.Projector

	skip  *int
	top   *int
	count bool
	log   *slog.Logger
}

// Prepare validates restrictions and binds every clause of opts over
// elements of elementType. Clauses bind in request order: $apply first, then
// $filter and $orderby over the rows $apply produces.
func Prepare(model *edm.Model, elementType *edm.StructuredType, opts Options, settings binder.Settings) (*Plan, error) {
	if model == nil || elementType == nil {
		return nil, fmt.Errorf("query needs a model and an element type")
	}
	log := settings.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("provider", "memory", "element", elementType.FullName())

	violations := binder.ValidateRestrictions(model, binder.Clauses{
		Filter:       opts.Filter,
		OrderBy:      opts.OrderBy,
		Apply:        opts.Apply,
		SelectExpand: opts.SelectExpand,
	})
	if len(violations) > 0 {
		errs := make([]error, len(violations))
		for i, v := range violations {
			errs[i] = v
		}
		log.Warn("query restricted", "violations", len(violations))
		return nil, errors.Join(errs...)
	}

	p := &Plan{skip: opts.Skip, top: opts.Top, count: opts.Count, log: log}
	var err error
	if opts.Apply != nil {
		if p.Pipeline, err = binder.BindApply(model, opts.Apply, elementType, settings); err != nil {
			return nil, fmt.Errorf("bind $apply: %w", err)
		}
	}

	if opts.Filter != nil {
		if p.Pipeline != nil {
			p.Filter, err = p.Pipeline.BindFilter(opts.Filter)
		} else {
			p.Filter, err = binder.BindFilter(model, opts.Filter, elementType, settings)
		}
		if err != nil {
			return nil, fmt.Errorf("bind $filter: %w", err)
		}
	}

	if opts.OrderBy != nil {
		if p.Pipeline != nil {
			p.OrderBy, err = p.Pipeline.BindOrderBy(opts.OrderBy)
		} else {
			p.OrderBy, err = binder.BindOrderBy(model, opts.OrderBy, elementType, settings)
		}
		if err != nil {
			return nil, fmt.Errorf("bind $orderby: %w", err)
		}
	}

	if p.Pipeline != nil && p.Pipeline.Index != nil {
		if opts.SelectExpand != nil {
			return nil, binder.NewUnsupportedError("selectexpand", "$select over aggregated rows")
		}
		return p, nil
	}
	if p.Projector, err = projection.NewProjector(model, opts.SelectExpand, elementType, settings); err != nil {
		return nil, fmt.Errorf("bind $select/$expand: %w", err)
	}
	return p, nil
}

// Query builds the deferred query of the plan over rows.
func (p *Plan) Query(rows []any) *Query {
	q := &Query{source: rows}
	if p.Pipeline != nil {
		q = q.Apply(p.Pipeline)
	}
	if p.Filter != nil {
		q = q.Where(p.Filter)
	}
	if p.OrderBy != nil {
		q = q.OrderBy(p.OrderBy)
	}
	return q
}

// Result is the outcome of executing a plan.
type Result struct {
	// Rows are the rows after $skip and $top: source elements, or
	// *record.GroupByWrapper when $apply groups or aggregates.
	Rows []any

	// Items are the projected rows. They are nil when $apply groups or
	// aggregates.
	Items []*projection.SelectExpandWrapper

	// Count is set when the request asked for it.
	Count *int64
}

// Execute runs the plan over rows.
func (p *Plan) Execute(ctx context.Context, rows []any) (*Result, error) {
	start := time.Now()
	q := p.Query(rows)

	res := &Result{}
	if p.count {
		n, err := q.Count(ctx)
		if err != nil {
			return nil, err
		}
		c := int64(n)
		res.Count = &c
	}
	if p.skip != nil {
		q = q.Skip(*p.skip)
	}
	if p.top != nil {
		q = q.Take(*p.top)
	}

	var err error
	if res.Rows, err = q.Rows(ctx); err != nil {
		return nil, err
	}
	if p.Projector != nil {
		if res.Items, err = p.Projector.ProjectAll(res.Rows); err != nil {
			return nil, err
		}
	}
	p.log.Debug("executed query",
		"steps", q.String(),
		"source", len(rows),
		"rows", len(res.Rows),
		"duration", time.Since(start))
	return res, nil
}

// Maps renders the result rows as nested maps.
func (r *Result) Maps() []map[string]any {
	if r.Items != nil {
		out := make([]map[string]any, len(r.Items))
		for i, w := range r.Items {
			out[i] = w.ToMap()
		}
		return out
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		if w, ok := row.(*record.GroupByWrapper); ok {
			out = append(out, w.ToMap())
		}
	}
	return out
}

// Explain describes the bound clauses, one line per clause.
func (p *Plan) Explain() []string {
	var lines []string
	if p.Pipeline != nil {
		lines = append(lines, "$apply: "+p.Pipeline.String())
	}
	if p.Filter != nil {
		lines = append(lines, "$filter: "+p.Filter.String())
	}
	if p.OrderBy != nil {
		lines = append(lines, "$orderby: "+p.OrderBy.String())
	}
	if p.count {
		lines = append(lines, "$count: true")
	}
	if p.skip != nil {
		lines = append(lines, "$skip: "+strconv.Itoa(*p.skip))
	}
	if p.top != nil {
		lines = append(lines, "$top: "+strconv.Itoa(*p.top))
	}
	return lines
}
