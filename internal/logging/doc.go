// Package logging assembles structured slog loggers and formatting helpers used
// across romid.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and defines the standard field keys (component, path, platform,
// signal, run_id) so identification and ingest logs share one shape. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
