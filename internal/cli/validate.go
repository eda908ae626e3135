package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/querybind/internal/binder"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Check scenario queries against model restrictions",
		Long: `Load a scenario, resolve its queries against the model and check every
property they use against the model's restrictions (not filterable, not
sortable, not expandable, not countable). Nothing is bound or evaluated.

A query whose expected error is RESTRICTED passes when it violates a
restriction and fails when it does not.

Exit codes:
  0 - No unexpected violations
  1 - One or more queries violate restrictions
  2 - Command error (unreadable scenario, unresolved paths)

Examples:
  querybind validate gadgets.yaml
  querybind validate gadgets.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenario(rootOpts, args[0], cmd)
		},
	}
}

func validateScenario(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	c, err := loadScenario(f, path)
	if err != nil {
		return err
	}

	report := newScenarioReport(c.Scenario.Name)
	for _, cq := range c.Queries {
		violations := binder.ValidateRestrictions(c.Model, binder.Clauses{
			Filter:       cq.Options.Filter,
			OrderBy:      cq.Options.OrderBy,
			Apply:        cq.Options.Apply,
			SelectExpand: cq.Options.SelectExpand,
		})
		expected := cq.Expect != nil && cq.Expect.Error == string(binder.ErrCodeRestricted)

		q := QueryReport{Name: cq.Name, Pass: len(violations) == 0}
		if len(violations) > 0 {
			q.ErrorCode = string(binder.ErrCodeRestricted)
			for _, v := range violations {
				q.Failures = append(q.Failures, v.Error())
			}
		}
		if expected {
			q.Pass = !q.Pass
			if q.Pass {
				q.Failures = nil
			} else {
				q.Failures = []string{"expected a restriction violation"}
			}
		}
		report.add(q)
	}
	return finish(f, report, "Validate", CodeRestricted)
}
