// Package schedule is the trigger engine.
//
// It arms two kinds of triggers:
//   - recurring: day-of-week preset + HH:MM wall clock in the engine timezone
//   - once: a single fire at an absolute instant
//
// Triggers are keyed; adding a key that already exists replaces the old
// trigger atomically. The engine never retries a failed delivery and a
// delivery error never disarms the trigger. Persistence is the caller's
// job: the engine holds state in memory only and is re-armed from storage
// on startup.
package schedule
