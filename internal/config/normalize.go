package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeIndex(); err != nil {
		return err
	}
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeHashing()
	c.normalizeArchive()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("ROMID_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.HashCache) == "" {
		c.Paths.HashCache = filepath.Join(c.Paths.DataDir, defaultHashCacheName)
	}
	if c.Paths.HashCache, err = expandPath(c.Paths.HashCache); err != nil {
		return fmt.Errorf("paths.hash_cache: %w", err)
	}
	return nil
}

func (c *Config) normalizeIndex() error {
	sources := make([]string, 0, len(c.Index.Sources))
	seen := make(map[string]struct{}, len(c.Index.Sources))
	for _, pattern := range c.Index.Sources {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		expanded, err := expandPath(pattern)
		if err != nil {
			return fmt.Errorf("index.sources: %w", err)
		}
		if _, exists := seen[expanded]; exists {
			continue
		}
		seen[expanded] = struct{}{}
		sources = append(sources, expanded)
	}
	c.Index.Sources = sources
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = defaultBatchSize
	}
	if c.Index.LockWaitSeconds < 0 {
		c.Index.LockWaitSeconds = 0
	}
	return nil
}

func (c *Config) normalizeCatalog() error {
	var err error
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	if c.Catalog.Path != "" {
		if c.Catalog.Path, err = expandPath(c.Catalog.Path); err != nil {
			return fmt.Errorf("catalog.path: %w", err)
		}
	}
	c.Overrides.Path = strings.TrimSpace(c.Overrides.Path)
	if c.Overrides.Path != "" {
		if c.Overrides.Path, err = expandPath(c.Overrides.Path); err != nil {
			return fmt.Errorf("overrides.path: %w", err)
		}
	}
	c.Metrics.Textfile = strings.TrimSpace(c.Metrics.Textfile)
	if c.Metrics.Textfile != "" {
		if c.Metrics.Textfile, err = expandPath(c.Metrics.Textfile); err != nil {
			return fmt.Errorf("metrics.textfile: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeHashing() {
	algos := make([]string, 0, len(c.Hashing.Algorithms))
	seen := make(map[string]struct{}, len(c.Hashing.Algorithms))
	for _, algo := range c.Hashing.Algorithms {
		normalized := strings.ToLower(strings.TrimSpace(algo))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		algos = append(algos, normalized)
	}
	if len(algos) == 0 {
		algos = append(algos, defaultAlgorithms...)
	}
	c.Hashing.Algorithms = algos
	if c.Hashing.CacheEntries <= 0 {
		c.Hashing.CacheEntries = defaultCacheEntries
	}
	if c.Hashing.Workers <= 0 {
		c.Hashing.Workers = defaultWorkers
	}
}

func (c *Config) normalizeArchive() {
	if c.Archive.MaxEntries <= 0 {
		c.Archive.MaxEntries = defaultMaxEntries
	}
	if c.Archive.DominanceRatio == 0 {
		c.Archive.DominanceRatio = defaultDominanceRatio
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
