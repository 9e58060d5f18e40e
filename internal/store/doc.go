// Package store persists tool invocation and job run history in SQLite.
//
// SQLiteStore records every dispatched call (as a tools.Recorder) and every
// scheduler run (as a scheduler.RunRecorder). Rows are keyed by ULID and
// timestamps are stored as fixed-width UTC text so they sort lexically.
// MemoryStore implements the same Store interface without a database.
//
// History grows without bound unless pruned; PruneCallback wraps Prune for
// the scheduler's prune_history job.
package store
