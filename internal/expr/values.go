package expr

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
)

// CompareValues orders two non-null normalized values of the same runtime
// representation. Strings compare ordinally.
func CompareValues(a, b any) (int, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp3(x < y, x > y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp3(x < y, x > y), nil
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp3(!x && y, x && !y), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	case edm.LocalDate:
		if y, ok := b.(edm.LocalDate); ok {
			return x.Compare(y), nil
		}
	case edm.LocalTime:
		if y, ok := b.(edm.LocalTime); ok {
			return cmp3(x < y, x > y), nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			return cmp3(x < y, x > y), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrInvalidValue, a, b)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// EqualValues reports whether two normalized values are equal. Null equals
// only null.
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ga, ok := a.(orb.Geometry); ok {
		gb, ok := b.(orb.Geometry)
		return ok && orb.Equal(ga, gb)
	}
	if c, err := CompareValues(a, b); err == nil {
		return c == 0
	}
	return false
}

// Arithmetic applies an arithmetic operator to two non-null normalized
// values.
func Arithmetic(op Op, a, b any) (any, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return intArithmetic(op, x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return floatArithmetic(op, x, y)
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return decimalArithmetic(op, x, y)
		}
	case time.Time:
		switch y := b.(type) {
		case time.Duration:
			if op == OpAdd {
				return x.Add(y), nil
			}
			if op == OpSub {
				return x.Add(-y), nil
			}
		case time.Time:
			if op == OpSub {
				return x.Sub(y), nil
			}
		}
	case edm.LocalDate:
		if y, ok := b.(time.Duration); ok {
			if op == OpAdd {
				return x.AddDuration(y), nil
			}
			if op == OpSub {
				return x.AddDuration(-y), nil
			}
		}
		if y, ok := b.(edm.LocalDate); ok && op == OpSub {
			return x.In(time.UTC).Sub(y.In(time.UTC)), nil
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			if op == OpAdd {
				return x + y, nil
			}
			if op == OpSub {
				return x - y, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: operator %s not defined for %T and %T", ErrInvalidValue, op, a, b)
}

func intArithmetic(op Op, x, y int64) (any, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, ErrDivideByZero
		}
		return x / y, nil
	case OpMod:
		if y == 0 {
			return nil, ErrDivideByZero
		}
		return x % y, nil
	case OpHas:
		return x&y == y, nil
	}
	return nil, fmt.Errorf("%w: operator %s not defined for integers", ErrInvalidValue, op)
}

func floatArithmetic(op Op, x, y float64) (any, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		return x / y, nil
	case OpMod:
		return math.Mod(x, y), nil
	}
	return nil, fmt.Errorf("%w: operator %s not defined for floating values", ErrInvalidValue, op)
}

func decimalArithmetic(op Op, x, y decimal.Decimal) (any, error) {
	switch op {
	case OpAdd:
		return x.Add(y), nil
	case OpSub:
		return x.Sub(y), nil
	case OpMul:
		return x.Mul(y), nil
	case OpDiv:
		if y.IsZero() {
			return nil, ErrDivideByZero
		}
		return x.Div(y), nil
	case OpMod:
		if y.IsZero() {
			return nil, ErrDivideByZero
		}
		return x.Mod(y), nil
	}
	return nil, fmt.Errorf("%w: operator %s not defined for decimals", ErrInvalidValue, op)
}

// Negate returns -v for a numeric or duration value.
func Negate(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	case decimal.Decimal:
		return x.Neg(), nil
	case time.Duration:
		return -x, nil
	}
	return nil, fmt.Errorf("%w: cannot negate %T", ErrInvalidValue, v)
}

// ConvertValue converts a normalized value to the runtime representation of
// t. Conversions between numeric kinds follow PromoteNumeric; everything else
// goes through edm normalization.
func ConvertValue(v any, t edm.TypeRef) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch def := t.Definition.(type) {
	case *edm.EnumType:
		if s, ok := v.(string); ok {
			n, found := def.Parse(s)
			if !found {
				return nil, fmt.Errorf("%w: %q is not a member of %s", ErrInvalidValue, s, def.FullName())
			}
			return n, nil
		}
		return edm.NormalizePrimitive(v, edm.Int64)
	case *edm.PrimitiveType:
		k := def.PrimitiveKind
		switch x := v.(type) {
		case float64:
			if k.IsIntegral() {
				return int64(x), nil
			}
		case decimal.Decimal:
			if k.IsIntegral() {
				return x.IntPart(), nil
			}
		case edm.LocalDate:
			if k.IsIntegral() {
				return x.Number(), nil
			}
		case edm.LocalTime:
			if k.IsIntegral() {
				return x.Ticks(), nil
			}
		}
		return edm.NormalizePrimitive(v, k)
	}
	return v, nil
}
