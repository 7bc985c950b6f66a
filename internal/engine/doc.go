// Package engine is the entry point for callers: it opens the configured
// catalog, reference index, hash cache and override rules, and exposes
// Identify, IdentifyBatch, RebuildIndex and CoverageReport. Every operation
// takes a context for cancellation and an optional ProgressFunc.
package engine
