// Package identify combines override rules, reference index lookups,
// structural validation and heuristic scoring into one verdict per input.
//
// Steps run in a fixed priority order and stop at the first that decides:
// override rule, strong-digest match, crc32+size match, structural
// confirmation, then heuristics under the catalog's ambiguity policy. Unknown
// is a normal outcome and always carries the signal that caused it.
package identify
