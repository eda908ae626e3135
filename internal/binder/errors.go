package binder

import (
	"errors"
	"fmt"
)

// CompileError reports a clause that cannot be bound. Binding is
// all-or-nothing: a CompileError means no expression was produced.
//
// Compile errors include:
//   - Unsupported construct: a node kind or operator with no translation
//   - Function not supported: no overload or aggregate for the argument types
//   - Type mismatch: operands that cannot be reconciled
//   - Duplicate key: a repeated order-by property or $it
//   - Unresolved property: a path that names no accessor
//   - Restricted: a property used against its declared restrictions
type CompileError struct {
	// Code identifies the error category.
	Code CompileErrorCode

	// Message is a human-readable description.
	Message string

	// Construct names the offending node, operator or function.
	Construct string

	// Details contains additional context.
	Details map[string]string
}

// CompileErrorCode categorizes compile errors.
type CompileErrorCode string

const (
	// ErrCodeUnsupported indicates a node kind with no translation rule.
	ErrCodeUnsupported CompileErrorCode = "UNSUPPORTED_CONSTRUCT"

	// ErrCodeFunctionNotSupported indicates a function or aggregation method
	// with no overload for the argument types.
	ErrCodeFunctionNotSupported CompileErrorCode = "FUNCTION_NOT_SUPPORTED"

	// ErrCodeTypeMismatch indicates operand types that cannot be reconciled.
	ErrCodeTypeMismatch CompileErrorCode = "TYPE_MISMATCH"

	// ErrCodeDuplicateKey indicates a repeated order-by key.
	ErrCodeDuplicateKey CompileErrorCode = "DUPLICATE_KEY"

	// ErrCodeUnresolvedProperty indicates a property path with no accessor.
	ErrCodeUnresolvedProperty CompileErrorCode = "UNRESOLVED_PROPERTY"

	// ErrCodeRestricted indicates a property used against its restrictions.
	ErrCodeRestricted CompileErrorCode = "RESTRICTED"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Construct != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Construct)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errorCode(err error) (CompileErrorCode, bool) {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// IsUnsupportedError returns true if err is an unsupported construct error.
func IsUnsupportedError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeUnsupported
}

// IsFunctionNotSupportedError returns true if err reports a missing function
// or aggregate overload.
func IsFunctionNotSupportedError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeFunctionNotSupported
}

// IsTypeMismatchError returns true if err is a type mismatch.
func IsTypeMismatchError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeTypeMismatch
}

// IsDuplicateKeyError returns true if err reports a repeated order-by key.
func IsDuplicateKeyError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeDuplicateKey
}

// IsUnresolvedPropertyError returns true if err reports an unresolved path.
func IsUnresolvedPropertyError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeUnresolvedProperty
}

// IsRestrictedError returns true if err reports a restriction violation.
func IsRestrictedError(err error) bool {
	code, ok := errorCode(err)
	return ok && code == ErrCodeRestricted
}

// NewUnsupportedError creates a CompileError for a node kind the named binder
// cannot translate.
func NewUnsupportedError(binder, construct string) *CompileError {
	return &CompileError{
		Code:      ErrCodeUnsupported,
		Message:   fmt.Sprintf("%s binder does not support this query construct", binder),
		Construct: construct,
		Details:   map[string]string{"binder": binder},
	}
}

// NewFunctionNotSupportedError creates a CompileError for a function or
// aggregate with no overload for argTypes.
func NewFunctionNotSupportedError(name string, argTypes ...string) *CompileError {
	return &CompileError{
		Code:      ErrCodeFunctionNotSupported,
		Message:   fmt.Sprintf("%s is not supported for argument types %v", name, argTypes),
		Construct: name,
	}
}

// NewTypeMismatchError creates a CompileError for irreconcilable operands.
func NewTypeMismatchError(construct, format string, args ...any) *CompileError {
	return &CompileError{
		Code:      ErrCodeTypeMismatch,
		Message:   fmt.Sprintf(format, args...),
		Construct: construct,
	}
}

// NewDuplicateKeyError creates a CompileError for a repeated order-by key.
func NewDuplicateKeyError(key string) *CompileError {
	return &CompileError{
		Code:      ErrCodeDuplicateKey,
		Message:   "order by key appears more than once",
		Construct: key,
	}
}

// NewUnresolvedPropertyError creates a CompileError for an unresolved path.
func NewUnresolvedPropertyError(path, reason string) *CompileError {
	return &CompileError{
		Code:      ErrCodeUnresolvedProperty,
		Message:   reason,
		Construct: path,
	}
}

// NewRestrictedError creates a CompileError for a restriction violation.
func NewRestrictedError(property, restriction string) *CompileError {
	return &CompileError{
		Code:      ErrCodeRestricted,
		Message:   fmt.Sprintf("property is %s", restriction),
		Construct: property,
		Details:   map[string]string{"restriction": restriction},
	}
}
