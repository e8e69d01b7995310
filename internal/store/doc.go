// Package store provides SQLite-backed durable storage for pipeline runs.
//
// Each run is stored once, after it reaches a terminal state, as a row in
// runs plus one row per transition. The transition rows are the
// authoritative history: replay reads them back, walks the state machine,
// and checks the result against the stored final state and digest.
//
// # Ordering
//
// History queries order by seq, the run's logical clock, never by wall
// time. Listing orders by insertion.
//
// # Encoding
//
// Transition details and stage results are stored as canonical JSON (see
// internal/canon) so that a history read back from the database hashes to
// the digest computed when the run finished.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
