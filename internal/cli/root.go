package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/harness"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose         bool
	Format          string // "json" | "text"
	NullPropagation string // "default" | "true" | "false"
	TimeZone        string
	Parameterize    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the querybind CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "querybind",
		Short: "querybind - bind OData query clauses over typed data",
		Long: `Bind OData-style query clauses ($filter, $orderby, $apply, $select and
$expand) against a type model and evaluate them over in-memory rows or
translate them to SQLite.

Every command reads a scenario file: a YAML document naming a CUE model,
the entity type of its rows, the rows and a list of queries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if _, err := opts.Settings(); err != nil {
				return WrapExitError(ExitCommandError, "invalid settings", err)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.NullPropagation, "null-propagation", "default", "null propagation (default|true|false)")
	cmd.PersistentFlags().StringVar(&opts.TimeZone, "timezone", "UTC", "IANA time zone for date and time-of-day comparisons")
	cmd.PersistentFlags().BoolVar(&opts.Parameterize, "parameterize", false, "bind literals as parameters")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// Settings builds the base binder settings from the global flags. Settings
// declared in a scenario file take precedence over them.
func (o *RootOptions) Settings() (binder.Settings, error) {
	s := binder.DefaultSettings()

	np, err := binder.ParseNullPropagation(o.NullPropagation)
	if err != nil {
		return s, err
	}
	s.HandleNullPropagation = np

	if o.TimeZone != "" {
		loc, err := time.LoadLocation(o.TimeZone)
		if err != nil {
			return s, fmt.Errorf("invalid timezone %q: %w", o.TimeZone, err)
		}
		s.TimeZone = loc
	}
	s.ParameterizeConstants = o.Parameterize
	return s, nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// harness builds a scenario harness from the global flags. Verbose mode
// sends debug logs to stderr.
func (o *RootOptions) harness(cmd *cobra.Command) (*harness.Harness, error) {
	settings, err := o.Settings()
	if err != nil {
		return nil, err
	}
	var w io.Writer = io.Discard
	level := slog.LevelInfo
	if o.Verbose {
		w, level = cmd.ErrOrStderr(), slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return harness.New(harness.WithSettings(settings), harness.WithLogger(logger)), nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
