package binder

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/querybind/internal/functions"
)

// NullPropagation selects how absent values flow through bound expressions.
type NullPropagation int

const (
	// NullPropagationDefault resolves by target: on for the in-memory
	// provider, off for translating providers whose backend already has
	// three-valued semantics.
	NullPropagationDefault NullPropagation = iota
	NullPropagationTrue
	NullPropagationFalse
)

func (n NullPropagation) String() string {
	switch n {
	case NullPropagationTrue:
		return "true"
	case NullPropagationFalse:
		return "false"
	}
	return "default"
}

// ParseNullPropagation parses "default", "true" or "false".
func ParseNullPropagation(s string) (NullPropagation, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return NullPropagationDefault, nil
	case "true", "on":
		return NullPropagationTrue, nil
	case "false", "off":
		return NullPropagationFalse, nil
	}
	return 0, fmt.Errorf("invalid null propagation %q (want default, true or false)", s)
}

// Target is the provider that evaluates bound expressions.
type Target int

const (
	TargetInMemory Target = iota
	TargetSQL
)

func (t Target) String() string {
	if t == TargetSQL {
		return "sql"
	}
	return "memory"
}

// Settings configures one compilation.
type Settings struct {
	HandleNullPropagation NullPropagation

	// TimeZone reconciles Edm.Date and Edm.TimeOfDay operands with
	// Edm.DateTimeOffset operands. Nil means UTC.
	TimeZone *time.Location

	// ParameterizeConstants marks literals as bind parameters.
	ParameterizeConstants bool

	Target Target

	// Functions is the function table. Nil means functions.Default().
	Functions *functions.Registry

	// Logger receives binding events. Nil means slog.Default().
	Logger *slog.Logger

	// PageSize is the default number of elements kept per expanded
	// collection. Zero disables truncation.
	PageSize int

	// MaxTop caps $top of nested expansions. Zero means no cap.
	MaxTop int

	// MaxExpansionDepth caps nested $expand depth. Zero means no cap.
	MaxExpansionDepth int
}

// DefaultSettings returns settings for the in-memory provider.
func DefaultSettings() Settings {
	return Settings{
		HandleNullPropagation: NullPropagationDefault,
		TimeZone:              time.UTC,
		Target:                TargetInMemory,
		MaxExpansionDepth:     2,
	}
}

// PropagatesNulls resolves HandleNullPropagation against the target.
func (s Settings) PropagatesNulls() bool {
	switch s.HandleNullPropagation {
	case NullPropagationTrue:
		return true
	case NullPropagationFalse:
		return false
	}
	return s.Target == TargetInMemory
}

func (s Settings) withDefaults() Settings {
	if s.TimeZone == nil {
		s.TimeZone = time.UTC
	}
	if s.Functions == nil {
		s.Functions = defaultRegistry()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

var defaultRegistry = sync.OnceValue(functions.Default)
