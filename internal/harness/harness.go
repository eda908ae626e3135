package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/functions"
	"github.com/roach88/querybind/internal/projection"
	"github.com/roach88/querybind/internal/query"
	"github.com/roach88/querybind/internal/scenario"
	"github.com/roach88/querybind/internal/testutil"
)

// DefaultNow is the instant now() returns unless WithClock replaces the
// clock.
var DefaultNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

// Harness runs scenarios with fixed settings and a deterministic clock.
type Harness struct {
	settings binder.Settings
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithSettings sets the base settings scenario overrides apply to.
func WithSettings(s binder.Settings) Option {
	return func(h *Harness) { h.settings = s }
}

// WithClock sets the clock behind now().
func WithClock(clock func() time.Time) Option {
	return func(h *Harness) { h.clock = clock }
}

// WithLogger sets the logger for binding and execution events.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New creates a harness. Logs are discarded unless WithLogger is given.
func New(opts ...Option) *Harness {
	h := &Harness{
		settings: binder.DefaultSettings(),
		clock:    testutil.NewClock(DefaultNow).Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Settings resolves the settings queries of c bind with: the harness base,
// the scenario overrides, and a function table reading the harness clock.
func (h *Harness) Settings(c *scenario.Compiled) (binder.Settings, error) {
	s, err := c.Scenario.ApplySettings(h.settings)
	if err != nil {
		return s, fmt.Errorf("scenario %s: %w", c.Scenario.Name, err)
	}
	if s.Functions == nil {
		if s.Functions, err = functions.NewRegistryBuilder().WithClock(h.clock).Build(); err != nil {
			return s, err
		}
	}
	if s.Logger == nil {
		s.Logger = h.logger
	}
	return s, nil
}

// Run executes every query of c against its rows and checks expectations.
//
// A query that fails to bind is an outcome, not a run error: its error code
// is recorded and compared with the expected one. Run itself fails only
// when the scenario settings are invalid or ctx is done.
func (h *Harness) Run(ctx context.Context, c *scenario.Compiled) (*Result, error) {
	settings, err := h.Settings(c)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for _, q := range c.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := h.runQuery(ctx, c, q, settings)
		result.Outcomes = append(result.Outcomes, out)
		if err := Check(out, q.Expect); err != nil {
			result.AddError(err.Error())
		}
		h.logger.Info("query completed",
			"scenario", c.Scenario.Name,
			"query", q.Name,
			"rows", len(out.Rows),
			"error_code", out.ErrorCode,
		)
	}
	return result, nil
}

func (h *Harness) runQuery(ctx context.Context, c *scenario.Compiled, q scenario.CompiledQuery, settings binder.Settings) *Outcome {
	out := &Outcome{Query: q.Name}
	plan, err := query.Prepare(c.Model, c.Entity, q.Options, settings)
	if err != nil {
		out.Err, out.ErrorCode = err, ErrorCode(err)
		return out
	}
	out.Explain = plan.Explain()

	res, err := plan.Execute(ctx, c.Rows)
	if err != nil {
		out.Err, out.ErrorCode = err, ErrorCode(err)
		return out
	}
	out.Rows = res.Maps()
	out.Count = res.Count
	return out
}

// Explain binds every query of c without executing it.
func (h *Harness) Explain(c *scenario.Compiled) ([]*Outcome, error) {
	settings, err := h.Settings(c)
	if err != nil {
		return nil, err
	}
	outs := make([]*Outcome, 0, len(c.Queries))
	for _, q := range c.Queries {
		out := &Outcome{Query: q.Name}
		if plan, err := query.Prepare(c.Model, c.Entity, q.Options, settings); err != nil {
			out.Err, out.ErrorCode = err, ErrorCode(err)
		} else {
			out.Explain = plan.Explain()
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// ErrorCode returns the code of the first compile or validation error in
// err's tree, or "" if there is none.
func ErrorCode(err error) string {
	var ce *binder.CompileError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var ve *projection.ValidationError
	if errors.As(err, &ve) {
		return string(ve.Code)
	}
	return ""
}
