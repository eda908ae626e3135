package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/querybind/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Golden string // golden file to compare outcomes with
	Update bool   // rewrite the golden file
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Evaluate scenario queries in memory",
		Long: `Bind every query of a scenario and evaluate it over the scenario rows
with the in-memory provider. Results are checked against each query's
expectations and, with --golden, against a golden file of canonical JSON.

Exit codes:
  0 - All queries passed
  1 - One or more queries failed
  2 - Command error (unreadable scenario, invalid settings)

Examples:
  querybind run gadgets.yaml
  querybind run gadgets.yaml --format json
  querybind run gadgets.yaml --golden golden/gadgets.golden --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare outcomes with a golden file")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite the golden file")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Update && opts.Golden == "" {
		return f.Fail(ExitCommandError, CodeSettings, "--update requires --golden", nil)
	}

	h, err := opts.harness(cmd)
	if err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "invalid settings", err)
	}
	c, err := loadScenario(f, path)
	if err != nil {
		return err
	}

	result, err := h.Run(cmd.Context(), c)
	if err != nil {
		return f.Fail(ExitCommandError, CodeSettings, "failed to run scenario", err)
	}

	report := newScenarioReport(c.Scenario.Name)
	for i, out := range result.Outcomes {
		q, err := outcomeReport(out)
		if err != nil {
			return f.Fail(ExitFailure, CodeQueryFailed, "failed to render outcome", err)
		}
		if err := harness.Check(out, c.Queries[i].Expect); err != nil {
			q.Pass = false
			q.Failures = append(q.Failures, err.Error())
		}
		report.add(q)
	}

	if opts.Golden != "" {
		if err := checkGolden(opts, c.Scenario.Name, result, report); err != nil {
			return f.Fail(ExitCommandError, CodeLoad, "golden file", err)
		}
	}

	return finish(f, report, "Run", CodeQueryFailed)
}

// checkGolden compares the snapshot of result with the golden file, or
// rewrites the file when updating.
func checkGolden(opts *RunOptions, name string, result *harness.Result, report *ScenarioReport) error {
	current, err := harness.MarshalSnapshot(name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	if opts.Update {
		report.Golden = goldenUpdated
		if err := os.MkdirAll(filepath.Dir(opts.Golden), 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(opts.Golden, current, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	golden, err := os.ReadFile(opts.Golden)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("golden file not found: %s (run with --update to create it)", opts.Golden)
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	report.Golden = goldenMatch
	if !bytes.Equal(bytes.TrimSpace(golden), current) {
		report.Golden = goldenMismatch
	}
	return nil
}
