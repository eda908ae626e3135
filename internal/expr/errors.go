package expr

import (
	"errors"
	"fmt"

	"github.com/roach88/querybind/internal/edm"
)

var (
	// ErrNullReference is returned when a null value is dereferenced or passed
	// to a function that does not accept null. With null propagation enabled
	// the binder guards every such site, so it only occurs with propagation
	// disabled.
	ErrNullReference = errors.New("null reference")

	// ErrDivideByZero is returned by integer and decimal division or modulo by
	// zero.
	ErrDivideByZero = errors.New("divide by zero")

	// ErrInvalidValue is returned when a runtime value does not have the
	// representation its expression type requires.
	ErrInvalidValue = edm.ErrInvalidValue
)

// EvaluationError reports a failure while evaluating a compiled expression.
// It wraps one of the sentinel errors above, or an error returned by a
// function implementation.
type EvaluationError struct {
	// Expr is the node that failed.
	Expr Expr

	// Err is the underlying error.
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// IsNullReference reports whether err is a null reference failure.
func IsNullReference(err error) bool {
	return errors.Is(err, ErrNullReference)
}

func fail(e Expr, err error) error {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return err
	}
	return &EvaluationError{Expr: e, Err: err}
}
