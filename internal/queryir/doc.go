// Package queryir describes queries a translating provider can run against
// an entity table.
//
// The binder emits typed expression trees (package expr) that the in-memory
// provider evaluates directly. A translating provider only understands a
// portable fragment of those trees: the reads of one table's columns and the
// operators and functions a dialect can express. QueryIR sits between the
// two:
//
//	[binder] → [expr trees] → [queryir.Select / queryir.Count] → [querysql]
//
// PORTABLE FRAGMENT:
//
// The portable fragment includes:
//   - Column reads of the row parameter ($it.Name)
//   - Literals and bind parameters of primitive and enum types
//   - Comparison, logical, arithmetic and has operators
//   - in over constant lists
//   - Canonical function calls (the dialect decides which it supports)
//   - Null guards and istrue, which SQL's own null semantics subsume
//
// The portable fragment EXCLUDES:
//   - Navigation and complex property paths (they need joins)
//   - Dynamic properties of open types (they have no column)
//   - any, all and $count over collections (they need subqueries)
//   - isof and cast over structured types
//   - Rows produced by $apply
//
// Query is a sealed interface using the marker method pattern, so backends
// can switch over it exhaustively.
package queryir
