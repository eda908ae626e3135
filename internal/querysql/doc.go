// Package querysql translates QueryIR into SQLite SQL.
//
// The translation keeps the semantics of the in-memory provider where SQLite
// can express them: NULL propagation comes from SQL itself (the binder emits
// no guards for the SQL target by default), string comparison is ordinal
// under the BINARY collation, and ties on the requested keys fall back to
// insertion order. Values are encoded so that SQLite's comparison of the
// encoded forms matches the comparison of the values (see ToSQL).
package querysql
