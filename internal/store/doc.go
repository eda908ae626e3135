// Package store provides SQLite-backed entity tables for the translating
// query provider.
//
// Each entity type maps to one table (see queryir.TableOf). Rows are written
// through the model's property accessors and read back as normalized
// runtime values, so a query answered here returns the same values the
// in-memory provider would.
//
// # Encoding
//
//   - Decimals are REAL; precision beyond float64 is lost
//   - Date-times are UTC text with nanoseconds, dates are YYYY-MM-DD and
//     clock times are HH:MM:SS.fffffffff; all three order as text
//   - Durations are INTEGER nanoseconds, booleans 0 or 1
//   - Geography values are WKT text and cannot be filtered or ordered
//
// Temporal columns are declared TEXT so the driver hands back strings.
//
// # Ordering
//
// Tables carry the entity key as a UNIQUE constraint and keep the implicit
// rowid, which follows insertion order. Compiled selects end with rowid, so
// ties resolve in insertion order as they do in memory.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
