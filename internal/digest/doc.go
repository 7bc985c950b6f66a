// Package digest computes content digests for files and archive entries.
//
// Every requested algorithm is fed from one pass over the complete stream;
// there is no sampling. Results are kept in a bounded LRU Cache keyed by
// path, size and modification time, and the cache can be persisted as a
// zstd-compressed msgpack snapshot between runs.
package digest
