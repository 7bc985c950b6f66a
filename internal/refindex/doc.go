// Package refindex stores reference digests in a SQLite database and answers
// exact-match lookups.
//
// Each ingested reference file is tracked as a source. Unchanged sources are
// skipped without touching the database, changed sources are replaced in one
// transaction, and sources that disappear are deactivated with their entries
// purged. Mutations run under an index lock file whose holder is identified by
// PID and process start time so that a lock left by a crashed run can be
// reclaimed safely.
package refindex
