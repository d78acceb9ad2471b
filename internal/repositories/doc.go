// Package repositories implements persistence for generation history and session state.
//
// Key Implementations:
//   - [GenerationRepository] : SQLite generation history with soft deletes and task id lookups
//   - [SessionRepository] : SQLite key/value mirror of the session, scoped by profile
//   - [RedisSessionStore] : Redis hash mirror of the session for logins shared across machines
//
// Both session stores implement auth.Store.
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
