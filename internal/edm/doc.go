// Package edm provides the type-metadata model consumed by the binder.
//
// The model describes abstract types (primitive, enum, complex, entity and
// collection types) and maps every declared property to a concrete accessor
// that reads the value from an in-memory instance. Two instance shapes are
// supported:
//
//   - Go structs, described by reflection through Builder
//   - map[string]any rows, described by a CUE model document through LoadCUE
//
// Values read through an accessor are normalized before the binder's
// evaluator sees them, so one runtime representation exists per primitive
// kind:
//
//	Edm.Byte .. Edm.Int64     int64
//	Edm.Single, Edm.Double    float64
//	Edm.Decimal               decimal.Decimal
//	Edm.Guid                  uuid.UUID
//	Edm.Date                  edm.LocalDate
//	Edm.TimeOfDay             edm.LocalTime
//	Edm.DateTimeOffset        time.Time
//	Edm.Duration              time.Duration
//	enum types                int64 (underlying value)
//	Edm.Geography*            orb.Point, orb.LineString, orb.Polygon
//	absent                    nil
//
// The model is built once and is read-only afterwards. It is safe to share
// across concurrent compilations.
package edm
