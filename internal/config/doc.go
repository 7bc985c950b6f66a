// Package config loads, normalizes, and validates romid configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the ROMID_DATA_DIR environment
// fallback. The Config type centralizes every knob the CLI and engine need:
// the index location, reference source patterns, the platform catalog and
// override documents, hashing and archive limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
