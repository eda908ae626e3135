package edm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// ErrInvalidValue is returned when a raw value cannot be represented as the
// requested type.
var ErrInvalidValue = errors.New("invalid value")

var (
	timeType      = reflect.TypeOf(time.Time{})
	durationType  = reflect.TypeOf(time.Duration(0))
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	dateType      = reflect.TypeOf(LocalDate{})
	localTimeType = reflect.TypeOf(LocalTime(0))
	bytesType     = reflect.TypeOf([]byte(nil))
	pointType     = reflect.TypeOf(orb.Point{})
	lineType      = reflect.TypeOf(orb.LineString{})
	polygonType   = reflect.TypeOf(orb.Polygon{})
)

// Normalize converts a raw accessor value into the runtime representation of
// t. Structured values are returned unchanged; nil pointers become nil.
func Normalize(raw any, t TypeRef) (any, error) {
	if IsNil(raw) {
		return nil, nil
	}
	switch def := t.Definition.(type) {
	case *PrimitiveType:
		return NormalizePrimitive(raw, def.PrimitiveKind)
	case *EnumType:
		return normalizeEnum(raw, def)
	case *CollectionType:
		return normalizeCollection(raw, def.Element)
	case *StructuredType:
		return raw, nil
	default:
		return NormalizeUntyped(raw), nil
	}
}

func invalid(raw any, target string) error {
	return fmt.Errorf("%w: cannot represent %T as %s", ErrInvalidValue, raw, target)
}

// NormalizePrimitive converts raw into the runtime representation of kind k.
func NormalizePrimitive(raw any, k PrimitiveKind) (any, error) {
	v, ok := indirect(reflect.ValueOf(raw))
	if !ok {
		return nil, nil
	}
	raw = v.Interface()

	switch {
	case k.IsIntegral():
		return toInt64(v, raw, k)
	case k.IsFloating():
		return toFloat64(v, raw, k)
	}

	switch k {
	case Decimal:
		return toDecimal(v, raw)
	case Boolean:
		if v.Kind() == reflect.Bool {
			return v.Bool(), nil
		}
	case String:
		if v.Kind() == reflect.String {
			return v.String(), nil
		}
	case Binary:
		if v.Type() == bytesType {
			return v.Bytes(), nil
		}
		if s, isString := raw.(string); isString {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return b, nil
		}
	case Guid:
		switch g := raw.(type) {
		case uuid.UUID:
			return g, nil
		case [16]byte:
			return uuid.UUID(g), nil
		case string:
			id, err := uuid.Parse(g)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return id, nil
		}
	case Date:
		switch d := raw.(type) {
		case LocalDate:
			return d, nil
		case time.Time:
			return LocalDateOf(d), nil
		case string:
			return ParseLocalDate(d)
		}
	case TimeOfDay:
		switch d := raw.(type) {
		case LocalTime:
			return d, nil
		case time.Duration:
			return LocalTime(d), nil
		case time.Time:
			return LocalTimeOf(d), nil
		case string:
			return ParseLocalTime(d)
		}
	case DateTimeOffset:
		switch d := raw.(type) {
		case time.Time:
			return d, nil
		case LocalDate:
			return d.In(time.UTC), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, d)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return ts, nil
		}
	case Duration:
		switch d := raw.(type) {
		case time.Duration:
			return d, nil
		case string:
			return ParseDuration(d)
		}
	case GeographyPoint, GeographyLineString, GeographyPolygon:
		return toGeography(raw, k)
	}
	return nil, invalid(raw, k.String())
}

func toInt64(v reflect.Value, raw any, k PrimitiveKind) (any, error) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Type() == durationType {
			break
		}
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, invalid(raw, k.String())
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return int64(f), nil
		}
	}
	if d, ok := raw.(decimal.Decimal); ok && d.IsInteger() {
		return d.IntPart(), nil
	}
	return nil, invalid(raw, k.String())
}

func toFloat64(v reflect.Value, raw any, k PrimitiveKind) (any, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Type() != durationType {
			return float64(v.Int()), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	}
	if d, ok := raw.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f, nil
	}
	return nil, invalid(raw, k.String())
}

func toDecimal(v reflect.Value, raw any) (any, error) {
	switch d := raw.(type) {
	case decimal.Decimal:
		return d, nil
	case string:
		dec, err := decimal.NewFromString(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return dec, nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromUint64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(v.Float()), nil
	}
	return nil, invalid(raw, Decimal.String())
}

func toGeography(raw any, k PrimitiveKind) (any, error) {
	switch k {
	case GeographyPoint:
		switch p := raw.(type) {
		case orb.Point:
			return p, nil
		case [2]float64:
			return orb.Point(p), nil
		case []any:
			return pointFromList(p)
		}
	case GeographyLineString:
		switch l := raw.(type) {
		case orb.LineString:
			return l, nil
		case []any:
			return lineFromList(l)
		}
	case GeographyPolygon:
		switch p := raw.(type) {
		case orb.Polygon:
			return p, nil
		case orb.Ring:
			return orb.Polygon{p}, nil
		case []any:
			ring, err := lineFromList(p)
			if err != nil {
				return nil, err
			}
			return orb.Polygon{orb.Ring(ring)}, nil
		}
	}
	return nil, invalid(raw, k.String())
}

func pointFromList(l []any) (orb.Point, error) {
	if len(l) != 2 {
		return orb.Point{}, invalid(l, GeographyPoint.String())
	}
	var p orb.Point
	for i, c := range l {
		f, err := NormalizePrimitive(c, Double)
		if err != nil {
			return orb.Point{}, err
		}
		p[i] = f.(float64)
	}
	return p, nil
}

func lineFromList(l []any) (orb.LineString, error) {
	line := make(orb.LineString, 0, len(l))
	for _, c := range l {
		pl, ok := c.([]any)
		if !ok {
			return nil, invalid(c, GeographyPoint.String())
		}
		p, err := pointFromList(pl)
		if err != nil {
			return nil, err
		}
		line = append(line, p)
	}
	return line, nil
}

func normalizeEnum(raw any, e *EnumType) (any, error) {
	v, ok := indirect(reflect.ValueOf(raw))
	if !ok {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.String:
		if n, ok := e.Parse(v.String()); ok {
			return n, nil
		}
		return nil, fmt.Errorf("%w: %q is not a member of %s", ErrInvalidValue, v.String(), e.FullName())
	}
	return nil, invalid(raw, e.FullName())
}

func normalizeCollection(raw any, elem TypeRef) (any, error) {
	v, ok := indirect(reflect.ValueOf(raw))
	if !ok {
		return nil, nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, invalid(raw, "Collection("+elem.String()+")")
	}
	out := make([]any, v.Len())
	for i := range out {
		item, err := Normalize(v.Index(i).Interface(), elem)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = item
	}
	return out, nil
}

// NormalizeUntyped converts a value of unknown declared type, such as a
// dynamic property, into a runtime representation by inspecting it.
func NormalizeUntyped(raw any) any {
	v, ok := indirect(reflect.ValueOf(raw))
	if !ok {
		return nil
	}
	switch v.Type() {
	case timeType, decimalType, uuidType, dateType, localTimeType, durationType, bytesType,
		pointType, lineType, polygonType:
		return v.Interface()
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = NormalizeUntyped(v.Index(i).Interface())
		}
		return out
	}
	return v.Interface()
}

// InferType returns the primitive type of a normalized runtime value.
func InferType(v any) (TypeRef, bool) {
	var k PrimitiveKind
	switch v.(type) {
	case bool:
		k = Boolean
	case int64:
		k = Int64
	case float64:
		k = Double
	case decimal.Decimal:
		k = Decimal
	case string:
		k = String
	case []byte:
		k = Binary
	case uuid.UUID:
		k = Guid
	case LocalDate:
		k = Date
	case LocalTime:
		k = TimeOfDay
	case time.Time:
		k = DateTimeOffset
	case time.Duration:
		k = Duration
	case orb.Point:
		k = GeographyPoint
	case orb.LineString:
		k = GeographyLineString
	case orb.Polygon:
		k = GeographyPolygon
	default:
		return TypeRef{}, false
	}
	return PrimitiveRef(k, false), true
}
