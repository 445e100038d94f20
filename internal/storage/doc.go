// Package storage records run summaries so past batches can be listed later.
//
// Only aggregate results are stored: one record per finished run. Individual
// transaction state is never persisted.
//
// Drivers:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
