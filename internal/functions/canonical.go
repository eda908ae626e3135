package functions

import (
	"bytes"
	"strings"
	"time"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

var (
	tBool           = edm.PrimitiveRef(edm.Boolean, false)
	tInt32          = edm.PrimitiveRef(edm.Int32, false)
	tString         = edm.PrimitiveRef(edm.String, false)
	tDouble         = edm.PrimitiveRef(edm.Double, false)
	tDecimal        = edm.PrimitiveRef(edm.Decimal, false)
	tDate           = edm.PrimitiveRef(edm.Date, false)
	tTimeOfDay      = edm.PrimitiveRef(edm.TimeOfDay, false)
	tDateTimeOffset = edm.PrimitiveRef(edm.DateTimeOffset, false)
)

func fn(name string, ret edm.TypeRef, impl func([]any) (any, error), params ...edm.PrimitiveKind) *expr.Function {
	return &expr.Function{Name: name, Params: params, Return: ret, Impl: impl}
}

func canonical(clock func() time.Time) []*expr.Function {
	var out []*expr.Function
	out = append(out, stringFunctions()...)
	out = append(out, dateTimeFunctions(clock)...)
	out = append(out, mathFunctions()...)
	out = append(out, geoFunctions()...)
	return out
}

// StringCompare orders two strings ordinally, returning -1, 0 or 1. Relational
// operators on strings are bound as compare(a, b) op 0. A null argument
// yields null.
var StringCompare = &expr.Function{
	Name:        "compare",
	Params:      []edm.PrimitiveKind{edm.String, edm.String},
	Return:      edm.PrimitiveRef(edm.Int32, true),
	AcceptsNull: true,
	Impl: func(a []any) (any, error) {
		if a[0] == nil || a[1] == nil {
			return nil, nil
		}
		return int64(strings.Compare(a[0].(string), a[1].(string))), nil
	},
}

// BinaryEqual compares two byte arrays by content. A null argument yields
// null.
var BinaryEqual = &expr.Function{
	Name:        "bytesEqual",
	Params:      []edm.PrimitiveKind{edm.Binary, edm.Binary},
	Return:      edm.PrimitiveRef(edm.Boolean, true),
	AcceptsNull: true,
	Impl: func(a []any) (any, error) {
		if a[0] == nil || a[1] == nil {
			return nil, nil
		}
		return bytes.Equal(a[0].([]byte), a[1].([]byte)), nil
	},
}
