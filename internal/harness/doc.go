// Package harness runs query scenarios and checks their outcomes.
//
// A scenario (see package scenario) is a model, a set of rows and named
// queries. The harness prepares each query with the in-memory provider,
// executes it against the rows and records an Outcome: the bound clauses,
// the projected rows, the requested count, or the error code of a query
// that failed to bind.
//
// # Scenario Format
//
//	name: gadgets
//	model: |
//	  namespace: "Shop"
//	  entities: Gadget: properties: {
//	    Id:    "Edm.Int32"
//	    Price: "Edm.Decimal"
//	  }
//	entity: Gadget
//	data:
//	  - {Id: 1, Price: 12.5}
//	queries:
//	  - name: cheap
//	    filter: {op: lt, left: {path: Price}, right: {const: 10}}
//	    expect:
//	      rows: []
//
// Expectations compare canonical JSON (see package canonical), so a decimal
// 12.50 and a YAML number 12.5 are equal, and dates compare as their ISO
// strings.
//
// # SQL Translation
//
// TranslateSQL lowers the $filter, $orderby, $skip, $top and $count of a
// query to SQLite. ExecuteSQL loads the scenario rows into a fresh in-memory
// store and runs the translation, so the two providers can be compared on
// the same data.
//
// # Golden Files
//
// RunWithGolden renders every outcome of a scenario as canonical JSON and
// compares it with testdata/golden/{scenario}.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// # Determinism
//
// now() reads the harness clock, which is fixed unless WithClock replaces
// it, so scenarios that filter on the current time are reproducible.
package harness
