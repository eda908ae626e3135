package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/querybind/internal/canonical"
	"github.com/roach88/querybind/internal/harness"
	"github.com/roach88/querybind/internal/scenario"
)

// QueryReport is the per-query result every command reports.
type QueryReport struct {
	Name string `json:"name"`
	Pass bool   `json:"pass"`

	Explain []string        `json:"explain,omitempty"`
	Rows    json.RawMessage `json:"rows,omitempty"`
	Count   *int64          `json:"count,omitempty"`

	SQL      string          `json:"sql,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	CountSQL string          `json:"count_sql,omitempty"`

	// ErrorCode and Error describe a query that failed to bind.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	// Failures lists failed expectations and restriction violations.
	Failures []string `json:"failures,omitempty"`
}

// ScenarioReport is the data payload of every command.
type ScenarioReport struct {
	Scenario string        `json:"scenario"`
	Queries  []QueryReport `json:"queries"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Total    int           `json:"total"`

	// Golden is the golden file comparison of run --golden.
	Golden string `json:"golden,omitempty"`
}

const (
	goldenMatch    = "match"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
)

func newScenarioReport(name string) *ScenarioReport {
	return &ScenarioReport{Scenario: name, Queries: []QueryReport{}}
}

func (r *ScenarioReport) add(q QueryReport) {
	r.Queries = append(r.Queries, q)
	r.Total++
	if q.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// loadScenario reads and compiles a scenario file. Failures are command
// errors.
func loadScenario(f *OutputFormatter, path string) (*scenario.Compiled, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeLoad, "failed to load scenario", err)
	}
	f.VerboseLog("Loaded scenario %s (%d rows, %d queries)", s.Name, len(s.Data), len(s.Queries))
	c, err := scenario.Compile(s)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeLoad, "failed to compile scenario", err)
	}
	return c, nil
}

// outcomeReport converts a harness outcome.
func outcomeReport(out *harness.Outcome) (QueryReport, error) {
	q := QueryReport{Name: out.Query, Pass: true, Explain: out.Explain, Count: out.Count, ErrorCode: out.ErrorCode}
	if out.Err != nil {
		q.Error = out.Err.Error()
		return q, nil
	}
	rows, err := canonical.Marshal(nonNil(out.Rows))
	if err != nil {
		return q, fmt.Errorf("query %s: %w", out.Query, err)
	}
	q.Rows = rows
	return q, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeQueryText prints one query in text form.
func writeQueryText(w io.Writer, q QueryReport, verbose bool) {
	mark := "✓"
	if !q.Pass {
		mark = "✗"
	}
	switch {
	case q.ErrorCode != "":
		fmt.Fprintf(w, "%s %s (error %s)\n", mark, q.Name, q.ErrorCode)
	case q.Error != "":
		fmt.Fprintf(w, "%s %s (error)\n", mark, q.Name)
	default:
		fmt.Fprintf(w, "%s %s\n", mark, q.Name)
	}
	if q.Error != "" && (verbose || q.ErrorCode == "") {
		fmt.Fprintf(w, "  %s\n", q.Error)
	}
	if verbose {
		for _, line := range q.Explain {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if q.SQL != "" {
		fmt.Fprintf(w, "  sql: %s\n", q.SQL)
		fmt.Fprintf(w, "  params: %s\n", q.Params)
	}
	if q.CountSQL != "" {
		fmt.Fprintf(w, "  count sql: %s\n", q.CountSQL)
	}
	if q.Rows != nil {
		fmt.Fprintf(w, "  rows: %s\n", q.Rows)
	}
	if q.Count != nil {
		fmt.Fprintf(w, "  count: %d\n", *q.Count)
	}
	for _, f := range q.Failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

// finish writes the report and maps failed queries to ExitFailure, reported
// under code.
func finish(f *OutputFormatter, report *ScenarioReport, summary, code string) error {
	var failure *CLIError
	switch {
	case report.Failed > 0:
		failure = &CLIError{
			Code:    code,
			Message: fmt.Sprintf("%d query(s) failed", report.Failed),
		}
	case report.Golden == goldenMismatch:
		failure = &CLIError{
			Code:    code,
			Message: "golden file mismatch (run with --update to regenerate)",
		}
	}

	if f.JSON() {
		if err := f.Report(report, failure); err != nil {
			return err
		}
	} else {
		w := f.Writer
		fmt.Fprintf(w, "Scenario: %s\n", report.Scenario)
		for _, q := range report.Queries {
			writeQueryText(w, q, f.Verbose)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s Summary: %d passed, %d failed, %d total\n", summary, report.Passed, report.Failed, report.Total)
		switch report.Golden {
		case goldenMismatch:
			fmt.Fprintln(w, "✗ Golden file mismatch (run with --update to regenerate)")
		case goldenUpdated:
			fmt.Fprintln(w, "✓ Golden file updated")
		}
		if failure == nil {
			fmt.Fprintln(w, "✓ All queries passed")
		}
	}

	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}
