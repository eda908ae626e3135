package projection

import (
	"errors"
	"fmt"
)

// ValidationError reports a select/expand clause that exceeds a configured
// limit. It is distinct from binder.CompileError: the clause is well formed
// but asks for more than the settings allow.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the expansion path, such as "Orders/Lines".
	Path string

	// Limit is the configured limit that was exceeded.
	Limit int

	// Actual is the requested value.
	Actual int
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodePageSizeExceeded indicates a nested $top above the page size
	// cap.
	ErrCodePageSizeExceeded ValidationErrorCode = "PAGE_SIZE_EXCEEDED"

	// ErrCodeExpansionDepthExceeded indicates $expand nested deeper than the
	// configured maximum.
	ErrCodeExpansionDepthExceeded ValidationErrorCode = "EXPANSION_DEPTH_EXCEEDED"

	// ErrCodeInvalidPageOption indicates a negative nested $top or $skip.
	ErrCodeInvalidPageOption ValidationErrorCode = "INVALID_PAGE_OPTION"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (path=%s, limit=%d, actual=%d)", e.Code, e.Message, e.Path, e.Limit, e.Actual)
}

// IsPageSizeError reports whether err is a page size validation error.
func IsPageSizeError(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == ErrCodePageSizeExceeded
	}
	return false
}

// IsExpansionDepthError reports whether err is an expansion depth
// validation error.
func IsExpansionDepthError(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == ErrCodeExpansionDepthExceeded
	}
	return false
}

// IsPageOptionError reports whether err rejects a negative $top or $skip.
func IsPageOptionError(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == ErrCodeInvalidPageOption
	}
	return false
}

func newPageOptionError(path, option string, value int) *ValidationError {
	return &ValidationError{
		Code:    ErrCodeInvalidPageOption,
		Message: option + " must not be negative",
		Path:    path,
		Actual:  value,
	}
}

func newPageSizeError(path string, limit, top int) *ValidationError {
	return &ValidationError{
		Code:    ErrCodePageSizeExceeded,
		Message: "$top exceeds the maximum page size",
		Path:    path,
		Limit:   limit,
		Actual:  top,
	}
}

func newDepthError(path string, limit, depth int) *ValidationError {
	return &ValidationError{
		Code:    ErrCodeExpansionDepthExceeded,
		Message: "$expand is nested too deeply",
		Path:    path,
		Limit:   limit,
		Actual:  depth,
	}
}
