// Package query is the in-memory provider.
//
// A Query records filter, order, $apply, skip and take steps over a slice
// and evaluates them only when rows are requested. Prepare validates and
// binds the clauses of a request once; the resulting Plan can then be
// executed against any slice of the element type.
package query
