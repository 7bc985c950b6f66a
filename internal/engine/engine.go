package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"romid/internal/archive"
	"romid/internal/catalog"
	"romid/internal/config"
	"romid/internal/digest"
	"romid/internal/identify"
	"romid/internal/logging"
	"romid/internal/metrics"
	"romid/internal/overrides"
	"romid/internal/refindex"
)

// Progress describes where a long-running operation stands.
type Progress struct {
	Stage   string `json:"stage"`
	Path    string `json:"path,omitempty"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// Progress stages.
const (
	StageIdentify = "identify"
	StageIngest   = "ingest"
	StageCoverage = "coverage"
)

// Engine is the collaborator-facing API: identification, index rebuilds and
// coverage reporting over one configuration.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	cache      *digest.Cache
	catalog    *catalog.Watcher
	index      *refindex.Index
	overrides  *overrides.Set
	identifier *identify.Identifier
	scanner    *archive.Scanner
	metrics    *metrics.Metrics
	workers    int
}

// Open wires every component described by cfg. The caller must Close the
// engine to persist the hash cache and release the index.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	algos, err := digest.ParseAlgorithms(cfg.Hashing.Algorithms)
	if err != nil {
		return nil, fmt.Errorf("hashing.algorithms: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "engine"),
		workers: cfg.Hashing.Workers,
	}
	if e.workers <= 0 {
		e.workers = 1
	}

	e.catalog, err = catalog.NewWatcher(cfg.Catalog.Path, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		if err := e.catalog.Start(); err != nil {
			logging.WarnWithContext(e.logger, "catalog watch unavailable", "catalog_watch_failed",
				logging.String(logging.FieldPath, cfg.Catalog.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "catalog changes need a restart"))
		}
	}

	e.index, err = refindex.Open(ctx, cfg.IndexPath(), refindex.Options{
		BatchSize: cfg.Index.BatchSize,
		Resolver: func(header, path string) (string, bool) {
			return e.catalog.Current().ResolveDAT(header, path)
		},
		Logger: logger,
	})
	if err != nil {
		_ = e.catalog.Close()
		return nil, err
	}

	e.metrics, err = metrics.New(nil)
	if err != nil {
		_ = e.index.Close()
		_ = e.catalog.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	e.cache = digest.OpenCache(cfg.Paths.HashCache, cfg.Hashing.CacheEntries, logger)
	e.overrides = overrides.NewSet(cfg.Overrides.Path, logger)
	e.identifier = identify.New(identify.Options{
		Hasher:     digest.NewHasher(e.cache, logger),
		Index:      e.index,
		Catalog:    e.catalog,
		Overrides:  e.overrides,
		Algorithms: algos,
		Logger:     logger,
	})
	e.scanner = archive.NewScanner(e.identifier, archive.Options{
		MaxEntries:     cfg.Archive.MaxEntries,
		DominanceRatio: cfg.Archive.DominanceRatio,
		Logger:         logger,
	})
	return e, nil
}

// Close saves the hash cache, writes the metrics textfile and releases the
// index and catalog watcher.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	if err := e.cache.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save hash cache: %w", err))
	}
	e.metrics.SetCacheStats(e.cache.Stats())
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
	}
	if err := e.catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.index.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Catalog returns the active platform catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog.Current() }

// Metrics returns the engine collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Overrides returns the currently loaded override rules.
func (e *Engine) Overrides() ([]overrides.Rule, error) { return e.overrides.Rules() }

// MatchOverride reports the first override rule matching the file at path.
func (e *Engine) MatchOverride(path string) (overrides.Rule, int, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return overrides.Rule{}, -1, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return e.overrides.Match(path, info.Size())
}

// CacheStats reports hash cache counters.
func (e *Engine) CacheStats() digest.CacheStats { return e.cache.Stats() }

// ClearCache empties the hash cache and removes its snapshot.
func (e *Engine) ClearCache() error { return e.cache.Clear() }

// Lookup finds reference entries by a single hex digest.
func (e *Engine) Lookup(ctx context.Context, hexDigest string) ([]refindex.Entry, error) {
	return e.index.Find(ctx, hexDigest)
}

// CheckIndex runs the index integrity check.
func (e *Engine) CheckIndex(ctx context.Context) (refindex.Health, error) {
	return e.index.Check(ctx)
}

// Sources lists every reference file the index has recorded.
func (e *Engine) Sources(ctx context.Context) ([]refindex.SourceFile, error) {
	return e.index.Sources(ctx)
}
