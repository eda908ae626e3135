// Package binder translates query ASTs into typed expression trees.
//
// A binder walks a semantic clause against the type-metadata model and emits
// an expr.Expr over parameters: a predicate for $filter, key selectors for
// $orderby, and grouping keys plus aggregates for $apply. Null propagation
// is explicit in the emitted tree as guards, so the same tree can be
// evaluated in memory or translated by a provider.
//
// Binder state (the parameter scope stack and the flattened property index)
// lives for one compilation only. Settings and the function registry are
// read-only and may be shared by concurrent compilations.
package binder
