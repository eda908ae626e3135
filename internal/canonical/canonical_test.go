package canonical

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/edm"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"null", nil, "null"},
		{"int", 42, "42"},
		{"int32", int32(-7), "-7"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool", true, "true"},
		{"float", 2.5, "2.5"},
		{"integral float", 10.0, "10"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"small float", 1e-7, "1e-7"},
		{"large float", 1e21, "1e+21"},
		{"float below exponent range", 123456789012345680000.0, "123456789012345680000"},
		{"decimal", decimal.RequireFromString("12.50"), "12.5"},
		{"empty array", []any{}, "[]"},
		{"nil slice", []string(nil), "null"},
		{"typed slice", []string{"a", "b"}, `["a","b"]`},
		{"empty object", map[string]any{}, "{}"},
		{"typed map", map[string]int{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"nil pointer", (*int)(nil), "null"},
		{"pointer", ptr(3), "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestMarshalModelValues(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"guid", id, `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`},
		{"date-time", time.Date(2024, 3, 1, 10, 0, 0, 500, time.UTC), `"2024-03-01T10:00:00.0000005Z"`},
		{"date", edm.LocalDate{Year: 2024, Month: time.March, Day: 1}, `"2024-03-01"`},
		{"time of day", edm.NewLocalTime(13, 5, 7, 0), `"13:05:07"`},
		{"duration", 90 * time.Minute, `"PT1H30M"`},
		{"binary", []byte{0xde, 0xad}, `"3q0="`},
		{"point", orb.Point{1.5, -2}, `{"coordinates":[1.5,-2],"type":"Point"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF5E
	// in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uff5e":     1,
		"\U0001F600": 2,
		"zebra":      3,
		"alpha":      map[string]any{"b": 1, "a": 2},
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"zebra":3,"😀":2,"～":1}`, string(result))
}

func TestMarshalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no html escaping", "<a & b>", `"<a & b>"`},
		{"quote and backslash", `say "hi" \o/`, `"say \"hi\" \\o/"`},
		{"control characters", "a\nb\tc\x01", `"a\nb\tc\u0001"`},
		{"line separator kept", "a\u2028b", "\"a\u2028b\""},
		{"nfc normalized", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

type fakeWrapper map[string]any

func (w fakeWrapper) ToMap() map[string]any { return w }

func TestMarshalWrappers(t *testing.T) {
	rows := []any{
		fakeWrapper{"Name": "bolt", "Parts": []any{fakeWrapper{"Id": int64(7)}}},
	}
	result, err := Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, `[{"Name":"bolt","Parts":[{"Id":7}]}]`, string(result))
}

func TestMarshalErrors(t *testing.T) {
	for _, v := range []any{math.NaN(), math.Inf(1), struct{}{}, map[int]string{1: "a"}, []any{math.NaN()}} {
		_, err := Marshal(v)
		assert.Error(t, err, "%#v", v)
	}
}

func TestDigestIsStable(t *testing.T) {
	a, err := Digest(map[string]any{"a": 1, "b": []any{"x", nil}})
	require.NoError(t, err)
	b, err := Digest(map[string]any{"b": []any{"x", nil}, "a": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
