// Package scenario loads query scenarios from YAML.
//
// A scenario names a model (inline CUE or a CUE file), the entity type of
// its rows, the rows themselves and a list of queries. Each query spells out
// its clauses as already-parsed expression trees: there is no URL parser, so
// a $filter such as
//
//	Price lt 10 and startswith(Name,'b')
//
// is written as
//
//	filter:
//	  op: and
//	  left: {op: lt, left: {path: Price}, right: {const: 10}}
//	  right: {call: startswith, args: [{path: Name}, {const: b}]}
//
// Compile resolves every path against the model and produces the semantic
// clauses the binders consume. Stages after a groupby or aggregate read the
// aggregated rows, so their paths become open-property accesses.
package scenario
