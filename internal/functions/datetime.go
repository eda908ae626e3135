package functions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

var (
	// MaxDateTime is the value of maxdatetime().
	MaxDateTime = time.Date(9999, 12, 31, 23, 59, 59, 999999900, time.UTC)

	// MinDateTime is the value of mindatetime().
	MinDateTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dateTimeFunctions(clock func() time.Time) []*expr.Function {
	dto := edm.DateTimeOffset
	date := edm.Date
	tod := edm.TimeOfDay

	part := func(name string, get func(time.Time) int) *expr.Function {
		return fn(name, tInt32, func(a []any) (any, error) {
			return int64(get(a[0].(time.Time))), nil
		}, dto)
	}
	datePart := func(name string, get func(edm.LocalDate) int) *expr.Function {
		return fn(name, tInt32, func(a []any) (any, error) {
			return int64(get(a[0].(edm.LocalDate))), nil
		}, date)
	}
	timePart := func(name string, get func(edm.LocalTime) int) *expr.Function {
		return fn(name, tInt32, func(a []any) (any, error) {
			return int64(get(a[0].(edm.LocalTime))), nil
		}, tod)
	}

	return []*expr.Function{
		part("year", time.Time.Year),
		part("month", func(t time.Time) int { return int(t.Month()) }),
		part("day", time.Time.Day),
		part("hour", time.Time.Hour),
		part("minute", time.Time.Minute),
		part("second", time.Time.Second),
		datePart("year", func(d edm.LocalDate) int { return d.Year }),
		datePart("month", func(d edm.LocalDate) int { return int(d.Month) }),
		datePart("day", func(d edm.LocalDate) int { return d.Day }),
		timePart("hour", edm.LocalTime.Hour),
		timePart("minute", edm.LocalTime.Minute),
		timePart("second", edm.LocalTime.Second),
		fn("fractionalseconds", tDecimal, func(a []any) (any, error) {
			return decimal.New(int64(a[0].(time.Time).Nanosecond()), -9), nil
		}, dto),
		fn("fractionalseconds", tDecimal, func(a []any) (any, error) {
			return decimal.New(int64(a[0].(edm.LocalTime).Nanosecond()), -9), nil
		}, tod),
		fn("date", tDate, func(a []any) (any, error) {
			return edm.LocalDateOf(a[0].(time.Time)), nil
		}, dto),
		fn("time", tTimeOfDay, func(a []any) (any, error) {
			return edm.LocalTimeOf(a[0].(time.Time)), nil
		}, dto),
		fn("totaloffsetminutes", tInt32, func(a []any) (any, error) {
			_, offset := a[0].(time.Time).Zone()
			return int64(offset / 60), nil
		}, dto),
		fn("totalseconds", tDecimal, func(a []any) (any, error) {
			return decimal.New(a[0].(time.Duration).Nanoseconds(), -9), nil
		}, edm.Duration),
		fn("now", tDateTimeOffset, func([]any) (any, error) {
			return clock(), nil
		}),
		fn("maxdatetime", tDateTimeOffset, func([]any) (any, error) {
			return MaxDateTime, nil
		}),
		fn("mindatetime", tDateTimeOffset, func([]any) (any, error) {
			return MinDateTime, nil
		}),
	}
}

// DateIn returns a function converting a DateTimeOffset to its calendar date
// in loc. The binder uses it to compare dates with date-times.
func DateIn(loc *time.Location) *expr.Function {
	return fn("dateIn("+loc.String()+")", tDate, func(a []any) (any, error) {
		return edm.LocalDateOf(a[0].(time.Time).In(loc)), nil
	}, edm.DateTimeOffset)
}

// TimeIn returns a function converting a DateTimeOffset to its clock time in
// loc.
func TimeIn(loc *time.Location) *expr.Function {
	return fn("timeIn("+loc.String()+")", tTimeOfDay, func(a []any) (any, error) {
		return edm.LocalTimeOf(a[0].(time.Time).In(loc)), nil
	}, edm.DateTimeOffset)
}
