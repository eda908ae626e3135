// Package querybind binds OData-style query clauses against a type model
// and evaluates them over in-memory data.
//
// Clauses arrive already parsed, as semantic trees resolved against a
// Model. Binding turns them into typed expressions: a Predicate for
// $filter, an Ordering for $orderby, a Pipeline for $apply and a Projector
// for $select/$expand. Each entry point takes the model, the clause, the
// element type and options over DefaultSettings:
//
//	pred, err := querybind.BindFilter(model, filter, gadget,
//		querybind.WithNullPropagation(querybind.NullPropagationFalse),
//		querybind.WithTimeZone(berlin))
//
// Binding fails with a *CompileError (see the Is*Error predicates) and
// never partially succeeds. Bound values hold no mutable state and may be
// shared between goroutines.
package querybind

import (
	"log/slog"
	"time"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/functions"
	"github.com/roach88/querybind/internal/projection"
	"github.com/roach88/querybind/internal/query"
	"github.com/roach88/querybind/internal/semantic"
)

type (
	Model          = edm.Model
	Type           = edm.Type
	StructuredType = edm.StructuredType

	FilterClause       = semantic.FilterClause
	OrderByClause      = semantic.OrderByClause
	ApplyClause        = semantic.ApplyClause
	SelectExpandClause = semantic.SelectExpandClause

	Settings        = binder.Settings
	NullPropagation = binder.NullPropagation
	Target          = binder.Target

	Predicate = binder.Predicate
	Ordering  = binder.Ordering
	Pipeline  = binder.Pipeline
	Projector = projection.Projector
	Wrapper   = projection.SelectExpandWrapper

	Registry     = functions.Registry
	CompileError = binder.CompileError
	LimitError   = projection.ValidationError
	Clauses      = binder.Clauses

	QueryOptions = query.Options
	Plan         = query.Plan
	Result       = query.Result
	ModelBuilder = edm.Builder
)

const (
	NullPropagationDefault = binder.NullPropagationDefault
	NullPropagationTrue    = binder.NullPropagationTrue
	NullPropagationFalse   = binder.NullPropagationFalse

	TargetInMemory = binder.TargetInMemory
	TargetSQL      = binder.TargetSQL
)

// Option adjusts the settings of one binding.
type Option func(*Settings)

// WithNullPropagation sets how absent values flow through expressions.
func WithNullPropagation(n NullPropagation) Option {
	return func(s *Settings) { s.HandleNullPropagation = n }
}

// WithTimeZone sets the zone Edm.Date and Edm.TimeOfDay operands are
// reconciled in.
func WithTimeZone(loc *time.Location) Option {
	return func(s *Settings) { s.TimeZone = loc }
}

// WithParameterizedConstants marks literals as bind parameters.
func WithParameterizedConstants() Option {
	return func(s *Settings) { s.ParameterizeConstants = true }
}

// WithTarget sets the provider bound expressions are evaluated by.
func WithTarget(t Target) Option {
	return func(s *Settings) { s.Target = t }
}

// WithFunctions replaces the function table.
func WithFunctions(r *Registry) Option {
	return func(s *Settings) { s.Functions = r }
}

// WithLogger sets the logger binding events go to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Settings) { s.Logger = l }
}

// WithPageSize truncates expanded collections to n elements.
func WithPageSize(n int) Option {
	return func(s *Settings) { s.PageSize = n }
}

// WithMaxTop caps $top of nested expansions.
func WithMaxTop(n int) Option {
	return func(s *Settings) { s.MaxTop = n }
}

// WithMaxExpansionDepth caps nested $expand depth.
func WithMaxExpansionDepth(n int) Option {
	return func(s *Settings) { s.MaxExpansionDepth = n }
}

// NewSettings applies opts to DefaultSettings.
func NewSettings(opts ...Option) Settings {
	s := binder.DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// DefaultSettings returns the settings of the in-memory provider.
func DefaultSettings() Settings {
	return binder.DefaultSettings()
}

// BindFilter binds a $filter over elements of elementType.
func BindFilter(model *Model, clause *FilterClause, elementType Type, opts ...Option) (*Predicate, error) {
	return binder.BindFilter(model, clause, elementType, NewSettings(opts...))
}

// BindOrderBy binds an $orderby over elements of elementType.
func BindOrderBy(model *Model, clause *OrderByClause, elementType Type, opts ...Option) (*Ordering, error) {
	return binder.BindOrderBy(model, clause, elementType, NewSettings(opts...))
}

// BindApply binds an $apply over elements of elementType. Clauses that
// follow it bind through the returned pipeline.
func BindApply(model *Model, clause *ApplyClause, elementType Type, opts ...Option) (*Pipeline, error) {
	return binder.BindApply(model, clause, elementType, NewSettings(opts...))
}

// NewProjector validates a $select/$expand clause for instances of
// elementType. Project then builds one wrapper per instance.
func NewProjector(model *Model, clause *SelectExpandClause, elementType *StructuredType, opts ...Option) (*Projector, error) {
	return projection.NewProjector(model, clause, elementType, NewSettings(opts...))
}

// ValidateRestrictions reports every property the clauses use against the
// model's restrictions. Callers run it before binding.
func ValidateRestrictions(model *Model, clauses Clauses) []*CompileError {
	return binder.ValidateRestrictions(model, clauses)
}

// Prepare checks restrictions and binds every clause of a query.
func Prepare(model *Model, elementType *StructuredType, q QueryOptions, opts ...Option) (*Plan, error) {
	return query.Prepare(model, elementType, q, NewSettings(opts...))
}

// NewModelBuilder starts a model built by reflection over Go structs with
// `odata:"name,nullable,key,dynamic"` tags.
func NewModelBuilder(namespace string) *ModelBuilder {
	return edm.NewBuilder(namespace)
}

// LoadModel loads a CUE model document.
func LoadModel(src []byte, filename string) (*Model, error) {
	return edm.LoadCUE(src, filename)
}

// IsUnsupportedError reports whether err is an UNSUPPORTED_CONSTRUCT
// compile error.
func IsUnsupportedError(err error) bool { return binder.IsUnsupportedError(err) }

// IsFunctionNotSupportedError reports whether err is a
// FUNCTION_NOT_SUPPORTED compile error.
func IsFunctionNotSupportedError(err error) bool { return binder.IsFunctionNotSupportedError(err) }

// IsTypeMismatchError reports whether err is a TYPE_MISMATCH compile error.
func IsTypeMismatchError(err error) bool { return binder.IsTypeMismatchError(err) }

// IsDuplicateKeyError reports whether err is a DUPLICATE_KEY compile error.
func IsDuplicateKeyError(err error) bool { return binder.IsDuplicateKeyError(err) }

// IsUnresolvedPropertyError reports whether err is an UNRESOLVED_PROPERTY
// compile error.
func IsUnresolvedPropertyError(err error) bool { return binder.IsUnresolvedPropertyError(err) }

// IsRestrictedError reports whether err is a RESTRICTED compile error.
func IsRestrictedError(err error) bool { return binder.IsRestrictedError(err) }

// IsPageSizeError reports whether err is a PAGE_SIZE_EXCEEDED limit error.
func IsPageSizeError(err error) bool { return projection.IsPageSizeError(err) }

// IsExpansionDepthError reports whether err is an EXPANSION_DEPTH_EXCEEDED
// limit error.
func IsExpansionDepthError(err error) bool { return projection.IsExpansionDepthError(err) }

// IsPageOptionError reports whether err is an INVALID_PAGE_OPTION limit
// error: a negative nested $top or $skip.
func IsPageOptionError(err error) bool { return projection.IsPageOptionError(err) }
