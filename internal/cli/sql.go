package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/querybind/internal/canonical"
	"github.com/roach88/querybind/internal/harness"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Execute bool // run the statements against an in-memory store
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <scenario.yaml>",
		Short: "Translate scenario queries to SQLite",
		Long: `Bind every query of a scenario for the SQL target and print the SQLite
statement and its parameters. Queries outside the translatable fragment
($apply, $expand, lambdas, functions without a SQLite rendering) show
their error code instead.

With --execute the scenario rows are loaded into an in-memory SQLite
database and every translated statement is run against it. A statement
that fails to execute fails its query.

Examples:
  querybind sql gadgets.yaml
  querybind sql gadgets.yaml --parameterize --execute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return translateScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "run the statements against an in-memory SQLite store")

	return cmd
}

func translateScenario(opts *SQLOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	h, err := opts.harness(cmd)
	if err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "invalid settings", err)
	}
	c, err := loadScenario(f, path)
	if err != nil {
		return err
	}
	if _, err := h.Settings(c); err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "invalid scenario settings", err)
	}

	report := newScenarioReport(c.Scenario.Name)
	for _, cq := range c.Queries {
		q := QueryReport{Name: cq.Name, Pass: true}
		t, err := h.TranslateSQL(c, cq)
		if err != nil {
			q.ErrorCode, q.Error = harness.ErrorCode(err), err.Error()
			report.add(q)
			continue
		}

		q.SQL, q.CountSQL = t.Query, t.CountQuery
		if q.Params, err = canonical.Marshal(nonNil(t.Params)); err != nil {
			return f.Fail(ExitFailure, CodeSQL, "failed to render parameters", err)
		}

		if opts.Execute {
			f.VerboseLog("Executing %s: %s", cq.Name, t.Query)
			out, err := h.ExecuteSQL(cmd.Context(), c, cq.Name, t)
			if err != nil {
				q.Pass = false
				q.Failures = append(q.Failures, err.Error())
				report.add(q)
				continue
			}
			if q.Rows, err = canonical.Marshal(nonNil(out.Rows)); err != nil {
				return f.Fail(ExitFailure, CodeSQL, "failed to render rows", err)
			}
			q.Count = out.Count
		}
		report.add(q)
	}
	return finish(f, report, "SQL", CodeSQL)
}
