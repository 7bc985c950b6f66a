// Package datfile reads reference data files in the Logiqx XML and
// clrmamepro key/value dialects, optionally wrapped in a zip.
//
// Parsing streams records to a callback so callers can batch inserts. Rows
// that are missing a name, size or usable digest are rejected and counted as
// malformed; they never stop the parse.
package datfile
