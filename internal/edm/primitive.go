package edm

import (
	"strconv"
	"strings"
)

// PrimitiveKind identifies a primitive type.
type PrimitiveKind int

const (
	Boolean PrimitiveKind = iota + 1
	Byte
	SByte
	Int16
	Int32
	Int64
	Single
	Double
	Decimal
	String
	Binary
	Guid
	Date
	TimeOfDay
	DateTimeOffset
	Duration
	GeographyPoint
	GeographyLineString
	GeographyPolygon
)

var primitiveNames = map[PrimitiveKind]string{
	Boolean:             "Edm.Boolean",
	Byte:                "Edm.Byte",
	SByte:               "Edm.SByte",
	Int16:               "Edm.Int16",
	Int32:               "Edm.Int32",
	Int64:               "Edm.Int64",
	Single:              "Edm.Single",
	Double:              "Edm.Double",
	Decimal:             "Edm.Decimal",
	String:              "Edm.String",
	Binary:              "Edm.Binary",
	Guid:                "Edm.Guid",
	Date:                "Edm.Date",
	TimeOfDay:           "Edm.TimeOfDay",
	DateTimeOffset:      "Edm.DateTimeOffset",
	Duration:            "Edm.Duration",
	GeographyPoint:      "Edm.GeographyPoint",
	GeographyLineString: "Edm.GeographyLineString",
	GeographyPolygon:    "Edm.GeographyPolygon",
}

func (k PrimitiveKind) String() string {
	if n, ok := primitiveNames[k]; ok {
		return n
	}
	return "Edm.Unknown"
}

// IsIntegral reports whether k is one of the integer kinds.
func (k PrimitiveKind) IsIntegral() bool {
	switch k {
	case Byte, SByte, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsFloating reports whether k is Single or Double.
func (k PrimitiveKind) IsFloating() bool {
	return k == Single || k == Double
}

// IsNumeric reports whether k supports arithmetic.
func (k PrimitiveKind) IsNumeric() bool {
	return k.IsIntegral() || k.IsFloating() || k == Decimal
}

// IsTemporal reports whether k is a date or time kind.
func (k PrimitiveKind) IsTemporal() bool {
	switch k {
	case Date, TimeOfDay, DateTimeOffset, Duration:
		return true
	}
	return false
}

// IsGeography reports whether k is a geography kind.
func (k PrimitiveKind) IsGeography() bool {
	switch k {
	case GeographyPoint, GeographyLineString, GeographyPolygon:
		return true
	}
	return false
}

// rank orders numeric kinds for promotion.
func (k PrimitiveKind) rank() int {
	switch k {
	case Byte, SByte:
		return 1
	case Int16:
		return 2
	case Int32:
		return 3
	case Int64:
		return 4
	case Decimal:
		return 5
	case Single:
		return 6
	case Double:
		return 7
	}
	return 0
}

// PromoteNumeric returns the kind both a and b convert to before an
// arithmetic or comparison operation. ok is false when either kind is not
// numeric.
//
// Integral kinds widen to the larger integral kind; integral with Decimal
// yields Decimal; integral with a floating kind yields Double; Decimal with a
// floating kind yields Decimal.
func PromoteNumeric(a, b PrimitiveKind) (PrimitiveKind, bool) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return 0, false
	}
	if a == b {
		return a, true
	}
	switch {
	case a == Decimal || b == Decimal:
		return Decimal, true
	case a.IsFloating() && b.IsFloating():
		return Double, true
	case a.IsFloating() || b.IsFloating():
		return Double, true
	}
	if a.rank() >= b.rank() {
		return a, true
	}
	return b, true
}

var primitiveTypes = func() map[PrimitiveKind]*PrimitiveType {
	m := make(map[PrimitiveKind]*PrimitiveType, len(primitiveNames))
	for k := range primitiveNames {
		m[k] = &PrimitiveType{PrimitiveKind: k}
	}
	return m
}()

// PrimitiveType is one of the built-in primitive types.
type PrimitiveType struct {
	PrimitiveKind PrimitiveKind
}

func (p *PrimitiveType) Kind() TypeKind { return KindPrimitive }

func (p *PrimitiveType) FullName() string { return p.PrimitiveKind.String() }

// Primitive returns the shared definition for k.
func Primitive(k PrimitiveKind) *PrimitiveType {
	return primitiveTypes[k]
}

// PrimitiveRef returns a reference to the primitive type k.
func PrimitiveRef(k PrimitiveKind, nullable bool) TypeRef {
	return TypeRef{Definition: Primitive(k), Nullable: nullable}
}

// PrimitiveByName resolves an "Edm.X" name.
func PrimitiveByName(name string) (*PrimitiveType, bool) {
	for k, n := range primitiveNames {
		if strings.EqualFold(n, name) {
			return primitiveTypes[k], true
		}
	}
	return nil, false
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
