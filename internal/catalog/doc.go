// Package catalog loads the platform catalog: the platforms romid can
// identify, their scoring tokens and weights, conflict groups, structural
// signatures, reference file names, and the ambiguity policy.
//
// Catalogs are TOML or YAML documents; a built-in catalog is used when none
// is configured. A Catalog is immutable once parsed. Watcher keeps the
// current catalog behind an atomic pointer and reloads it on change.
package catalog
