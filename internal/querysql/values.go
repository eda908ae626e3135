package querysql

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
)

// TimeLayout encodes Edm.DateTimeOffset values as fixed-width UTC text, so
// that text order is chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ColumnType returns the SQLite column type storing values of t.
func ColumnType(t edm.TypeRef) string {
	if t.Enum() != nil {
		return "INTEGER"
	}
	switch k := t.PrimitiveKind(); {
	case k == edm.Boolean, k.IsIntegral(), k == edm.Duration:
		return "INTEGER"
	case k.IsFloating(), k == edm.Decimal:
		return "REAL"
	case k == edm.Binary:
		return "BLOB"
	}
	return "TEXT"
}

// ToSQL encodes a normalized runtime value as a driver value.
//
// Decimals are stored as REAL and lose precision beyond float64. Dates,
// clock times and date-times are fixed-width text; durations are
// nanoseconds.
func ToSQL(v any) (any, error) {
	switch x := v.(type) {
	case nil, int64, float64, string, []byte:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	case uuid.UUID:
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(TimeLayout), nil
	case time.Duration:
		return int64(x), nil
	case edm.LocalDate:
		return x.String(), nil
	case edm.LocalTime:
		return formatLocalTime(x), nil
	case orb.Geometry:
		return wkt.MarshalString(x), nil
	}
	return nil, fmt.Errorf("%T has no SQL representation", v)
}

func formatLocalTime(t edm.LocalTime) string {
	return fmt.Sprintf("%02d:%02d:%02d.%09d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond())
}

// FromSQL decodes a driver value read from a column of type t into its
// normalized runtime value.
func FromSQL(v any, t edm.TypeRef) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t.Enum() != nil {
		return edm.NormalizePrimitive(v, edm.Int64)
	}
	k := t.PrimitiveKind()
	if b, ok := v.([]byte); ok && k != edm.Binary {
		v = string(b)
	}
	switch k {
	case edm.Boolean:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
	case edm.Decimal:
		switch n := v.(type) {
		case float64:
			return decimal.NewFromFloat(n), nil
		case int64:
			return decimal.NewFromInt(n), nil
		}
	case edm.Duration:
		if n, ok := v.(int64); ok {
			return time.Duration(n), nil
		}
	case edm.GeographyPoint, edm.GeographyLineString, edm.GeographyPolygon:
		if s, ok := v.(string); ok {
			g, err := wkt.Unmarshal(s)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", k, err)
			}
			v = g
		}
	}
	return edm.NormalizePrimitive(v, k)
}

// literal renders an encoded value inline.
func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEN") {
			s += ".0"
		}
		return s
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	}
	return "NULL"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
