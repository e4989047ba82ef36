package storage

// Package storage persists cameras, schedules, vehicle observations and alerts.
//
// Drivers:
//   - "memory": process-local maps, used by default and in tests
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": PostgreSQL through pgx's database/sql driver
//
// Alert insertion bumps the owning camera's alert counter in the same
// transaction, so concurrent alerts never lose an increment.
