package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"time"

	"romid/internal/faults"
	"romid/internal/logging"
)

// StreamKey identifies hashed content for caching. Archive entries use
// EntryKey so that the container modification time guards the entry.
type StreamKey struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// EntryKey builds the cache key for an entry inside a container.
func EntryKey(container, entry string, entrySize int64, containerModTime time.Time) StreamKey {
	return StreamKey{Path: container + "!" + entry, Size: entrySize, ModTime: containerModTime}
}

// Hasher computes digests over complete byte streams, consulting an optional
// cache. It is safe for concurrent use when the cache is.
type Hasher struct {
	cache  *Cache
	logger *slog.Logger
}

// NewHasher constructs a hasher. A nil cache disables caching.
func NewHasher(cache *Cache, logger *slog.Logger) *Hasher {
	return &Hasher{
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "digest"),
	}
}

// Cache returns the cache backing the hasher, which may be nil.
func (h *Hasher) Cache() *Cache {
	return h.cache
}

// HashFile digests the file at path. A file whose size or modification time
// changes while it is read yields a HashIOError with Rotated set.
func (h *Hasher) HashFile(path string, algos []Algorithm) (Set, error) {
	if len(algos) == 0 {
		return Set{}, errors.New("hash file: no algorithms requested")
	}
	before, err := os.Stat(path)
	if err != nil {
		return Set{}, &faults.HashIOError{Path: path, Err: err}
	}
	if before.IsDir() {
		return Set{}, &faults.HashIOError{Path: path, Err: errors.New("is a directory")}
	}
	key := StreamKey{Path: path, Size: before.Size(), ModTime: before.ModTime()}

	if set, ok := h.cache.Lookup(key, algos); ok {
		return set, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Set{}, &faults.HashIOError{Path: path, Err: err}
	}
	defer file.Close()

	set, n, err := compute(file, algos)
	if err != nil {
		return Set{}, &faults.HashIOError{Path: path, Err: err}
	}

	after, err := os.Stat(path)
	if err != nil {
		return Set{}, &faults.HashIOError{Path: path, Err: err}
	}
	if n != before.Size() || after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		h.logger.Debug("file changed while hashing",
			logging.String(logging.FieldPath, path),
			logging.Int64("bytes_read", n),
			logging.Int64("size_before", before.Size()),
			logging.Int64("size_after", after.Size()))
		return Set{}, &faults.HashIOError{Path: path, Rotated: true}
	}

	h.cache.Store(key, set)
	return set, nil
}

// HashStream digests r. When key.Path is set the result is cached; when
// key.Size is non-negative a stream of any other length is rejected.
func (h *Hasher) HashStream(key StreamKey, r io.Reader, algos []Algorithm) (Set, error) {
	if len(algos) == 0 {
		return Set{}, errors.New("hash stream: no algorithms requested")
	}
	cacheable := key.Path != ""
	if cacheable {
		if set, ok := h.cache.Lookup(key, algos); ok {
			return set, nil
		}
	}

	set, n, err := compute(r, algos)
	if err != nil {
		return Set{}, &faults.HashIOError{Path: key.Path, Err: err}
	}
	if key.Size >= 0 && n != key.Size {
		return Set{}, &faults.HashIOError{
			Path: key.Path,
			Err:  fmt.Errorf("read %d bytes, expected %d", n, key.Size),
		}
	}

	if cacheable {
		h.cache.Store(key, set)
	}
	return set, nil
}

// compute runs every requested hash in a single pass over r.
func compute(r io.Reader, algos []Algorithm) (Set, int64, error) {
	hashers := make(map[Algorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, alg := range algos {
		if _, ok := hashers[alg]; ok {
			continue
		}
		var hh hash.Hash
		switch alg {
		case CRC32:
			hh = crc32.NewIEEE()
		case MD5:
			hh = md5.New()
		case SHA1:
			hh = sha1.New()
		case SHA256:
			hh = sha256.New()
		default:
			return Set{}, 0, fmt.Errorf("unsupported digest algorithm %q", alg)
		}
		hashers[alg] = hh
		writers = append(writers, hh)
	}

	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return Set{}, n, err
	}

	var set Set
	for alg, hh := range hashers {
		set.set(alg, hex.EncodeToString(hh.Sum(nil)))
	}
	return set, n, nil
}
