// Package store provides SQLite-backed durable storage for a data service.
//
// The store holds:
//   - Schemas: every registered version of every data type, as documents
//   - Records: the current state of each (type, id)
//   - Journal: paged change entries with per-consumer status
//   - CmtIndex: derived subscriptions and the reverse-index registry
//
// # Critical Patterns
//
// Atomic mutation: a record write and its journal entry are committed in a
// single transaction (Commit). There is no path that writes one without the
// other.
//
// Logical ordering: entries are ordered per key by (page, seq) and globally
// by commit_seq. Timestamps are never stored.
//
// Deterministic listings: every query carries an ORDER BY so results are
// identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Data columns hold RFC 8785 canonical JSON produced by internal/ir.
package store
