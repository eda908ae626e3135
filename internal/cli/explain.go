package cli

import (
	"github.com/spf13/cobra"
)

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <scenario.yaml>",
		Short: "Print the bound expression of every query",
		Long: `Bind every query of a scenario without evaluating it and print the bound
clauses, one line per clause. Queries that fail to bind show their error
code. A binding error fails the query unless the query expects it.

Examples:
  querybind explain gadgets.yaml
  querybind explain gadgets.yaml --null-propagation false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return explainScenario(rootOpts, args[0], cmd)
		},
	}
}

func explainScenario(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	h, err := opts.harness(cmd)
	if err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "invalid settings", err)
	}
	c, err := loadScenario(f, path)
	if err != nil {
		return err
	}

	outs, err := h.Explain(c)
	if err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "failed to bind scenario", err)
	}

	// The bound clauses are the output.
	f.Verbose = true

	report := newScenarioReport(c.Scenario.Name)
	for i, out := range outs {
		q := QueryReport{Name: out.Query, Pass: true, Explain: nonNil(out.Explain), ErrorCode: out.ErrorCode}
		if out.Err != nil {
			q.Error = out.Err.Error()
			expect := c.Queries[i].Expect
			if expect == nil || expect.Error == "" || expect.Error != out.ErrorCode {
				q.Pass = false
			}
		}
		report.add(q)
	}
	return finish(f, report, "Explain", CodeQueryFailed)
}
