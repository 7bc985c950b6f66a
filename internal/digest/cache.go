package digest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"romid/internal/logging"
)

// DefaultCacheEntries bounds the cache when no capacity is configured.
const DefaultCacheEntries = 200_000

const snapshotVersion = 1

type record struct {
	Size    int64
	ModTime int64
	Digests Set
}

// CacheStats summarises cache activity since it was opened.
type CacheStats struct {
	Path      string `json:"path,omitempty"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a bounded LRU of digests keyed by path. An entry only hits when the
// stored size and modification time equal the lookup key. All methods are
// safe on a nil receiver, which behaves as an always-missing cache.
type Cache struct {
	path     string
	capacity int
	logger   *slog.Logger

	mu        sync.Mutex
	entries   *lru.Cache[string, record]
	dirty     bool
	hits      uint64
	misses    uint64
	evictions uint64
}

// OpenCache builds a cache with the given capacity and loads the snapshot at
// path when present. An empty path keeps the cache in memory only. A snapshot
// that cannot be decoded is logged and ignored.
func OpenCache(path string, capacity int, logger *slog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	c := &Cache{
		path:     path,
		capacity: capacity,
		logger:   logging.NewComponentLogger(logger, "hashcache"),
	}
	// NewWithEvict only fails for a non-positive size.
	entries, _ := lru.NewWithEvict[string, record](capacity, func(string, record) {
		c.evictions++
	})
	c.entries = entries

	if path == "" {
		return c
	}
	if err := c.load(); err != nil {
		c.logger.Warn("failed to load hash cache",
			logging.String(logging.FieldEventType, "hashcache_load_failed"),
			logging.String(logging.FieldPath, path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"),
			logging.String(logging.FieldImpact, "files will be rehashed on next identification"))
		c.entries.Purge()
		c.evictions = 0
	}
	return c
}

// Lookup returns cached digests when the key is unchanged and every requested
// algorithm is present.
func (c *Cache) Lookup(key StreamKey, algos []Algorithm) (Set, bool) {
	if c == nil {
		return Set{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries.Get(key.Path)
	if !ok || rec.Size != key.Size || rec.ModTime != key.ModTime.UnixNano() || !rec.Digests.Has(algos) {
		c.misses++
		return Set{}, false
	}
	c.hits++
	return rec.Digests, true
}

// Store records digests for key. Digests already cached for the same
// unchanged key are merged rather than replaced.
func (c *Cache) Store(key StreamKey, set Set) {
	if c == nil || key.Path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := record{Size: key.Size, ModTime: key.ModTime.UnixNano(), Digests: set}
	if prev, ok := c.entries.Peek(key.Path); ok && prev.Size == rec.Size && prev.ModTime == rec.ModTime {
		rec.Digests = set.Merge(prev.Digests)
	}
	c.entries.Add(key.Path, rec)
	c.dirty = true
}

// Stats returns current counters.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Path:      c.path,
		Entries:   c.entries.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Clear drops every entry and removes the snapshot file.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.evictions = 0
	c.dirty = false
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove hash cache: %w", err)
	}
	return nil
}

type snapshot struct {
	Version int             `msgpack:"version"`
	Entries []snapshotEntry `msgpack:"entries"`
}

type snapshotEntry struct {
	Path    string `msgpack:"path"`
	Size    int64  `msgpack:"size"`
	ModTime int64  `msgpack:"mtime"`
	Digests Set    `msgpack:"digests"`
}

// Save writes the cache to its snapshot path atomically. It is a no-op when
// nothing changed since the last load or save.
func (c *Cache) Save() error {
	if c == nil || c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	// Keys are oldest first, so reloading preserves recency.
	keys := c.entries.Keys()
	snap := snapshot{Version: snapshotVersion, Entries: make([]snapshotEntry, 0, len(keys))}
	for _, key := range keys {
		rec, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			Path:    key,
			Size:    rec.Size,
			ModTime: rec.ModTime,
			Digests: rec.Digests,
		})
	}

	if err := writeSnapshot(c.path, snap); err != nil {
		return err
	}
	c.dirty = false
	c.logger.Debug("hash cache saved",
		logging.String(logging.FieldPath, c.path),
		logging.Int("entries", len(snap.Entries)))
	return nil
}

func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create hash cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hashcache-*.tmp")
	if err != nil {
		return fmt.Errorf("create hash cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		cleanup()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&snap); err != nil {
		_ = zw.Close()
		cleanup()
		return fmt.Errorf("encode hash cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return fmt.Errorf("flush hash cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close hash cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace hash cache: %w", err)
	}
	return nil
}

func (c *Cache) load() error {
	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open hash cache: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	defer zr.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(zr).Decode(&snap); err != nil {
		return fmt.Errorf("decode hash cache: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("hash cache version %d unsupported", snap.Version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range snap.Entries {
		if entry.Path == "" {
			continue
		}
		c.entries.Add(entry.Path, record{Size: entry.Size, ModTime: entry.ModTime, Digests: entry.Digests})
	}
	c.evictions = 0
	return nil
}
