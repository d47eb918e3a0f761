// Package repositories implements SQLite persistence for the client's local state.
//
// Key Implementations:
//   - [SessionRepository] : Durable single-row credential store
//   - [JobRepository] : Recent job history with status tracking
//   - [JobHistoryAdapter] : Records settled snapshots from the tracker into [JobRepository]
//
// Sequence numbers provide stable, human-readable ordering (e.g., job #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
