// Package faults defines the error taxonomy shared by the identification
// engine.
//
// Sentinel markers classify failures with errors.Is; typed errors carry the
// details callers need to report them. Per-item failures (hash IO, archive
// parsing, malformed reference rows) are recorded against the item and never
// abort a batch. Index corruption and lock contention are fatal for the
// operation and must be surfaced, see Fatal.
package faults
