// Package archive identifies the entries of zip containers by streaming each
// entry through the content hasher, and reduces the per-entry verdicts to a
// single container verdict. Formats without entry streaming fall back to the
// container name.
package archive
