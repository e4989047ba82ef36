// Package scheduler decides when work runs; internal/task/engine runs it.
//
// It keeps two kinds of triggers:
//   - one-shot timers, upserted by name and versioned so a replaced or removed
//     timer never fires its old job
//   - cron entries (robfig/cron) for recurring jobs such as a daily HH:MM
//
// Fired triggers are handed to an Executor (normally the task engine).
package scheduler
