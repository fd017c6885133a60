// Package storage persists the task host's audit trail.
//
// It currently supports:
//   - "file": JSON Lines, one record per line
//   - "sqlite": a SQLite database (pure Go driver)
//
// The script runner itself keeps no state; only host-side events are stored.
package storage
