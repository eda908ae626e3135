package functions

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/shopspring/decimal"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

func mathFunctions() []*expr.Function {
	dbl, dec := edm.Double, edm.Decimal
	return []*expr.Function{
		fn("round", tDouble, floatOp(math.Round), dbl),
		fn("floor", tDouble, floatOp(math.Floor), dbl),
		fn("ceiling", tDouble, floatOp(math.Ceil), dbl),
		fn("round", tDecimal, decimalOp(func(d decimal.Decimal) decimal.Decimal { return d.Round(0) }), dec),
		fn("floor", tDecimal, decimalOp(decimal.Decimal.Floor), dec),
		fn("ceiling", tDecimal, decimalOp(decimal.Decimal.Ceil), dec),
	}
}

func floatOp(f func(float64) float64) func([]any) (any, error) {
	return func(a []any) (any, error) { return f(a[0].(float64)), nil }
}

func decimalOp(f func(decimal.Decimal) decimal.Decimal) func([]any) (any, error) {
	return func(a []any) (any, error) { return f(a[0].(decimal.Decimal)), nil }
}

// Geography functions work on WGS84 longitude/latitude points; distances and
// lengths are in meters.
func geoFunctions() []*expr.Function {
	return []*expr.Function{
		fn("geo.distance", tDouble, func(a []any) (any, error) {
			return geo.Distance(a[0].(orb.Point), a[1].(orb.Point)), nil
		}, edm.GeographyPoint, edm.GeographyPoint),
		fn("geo.length", tDouble, func(a []any) (any, error) {
			return geo.Length(a[0].(orb.LineString)), nil
		}, edm.GeographyLineString),
		fn("geo.intersects", tBool, func(a []any) (any, error) {
			return planar.PolygonContains(a[1].(orb.Polygon), a[0].(orb.Point)), nil
		}, edm.GeographyPoint, edm.GeographyPolygon),
	}
}
