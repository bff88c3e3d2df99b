// Package storage persists job run history.
//
// Drivers:
//   - file: append-only JSON Lines, compacted to the newest records
//   - sqlite: a SQLite database (modernc.org/sqlite, no cgo)
//
// The job store itself stays in memory; only finished runs are recorded.
package storage
