// Package textutil normalises file and folder names into comparable tokens.
//
// Text is folded with Unicode compatibility decomposition, stripped of
// diacritics and lowercased before being split on non-alphanumeric runes.
// Catalog tokens may span several words; Phrase matches them as contiguous
// token runs.
package textutil
