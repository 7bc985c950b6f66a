package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"romid/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.HashCache = filepath.Join(base, "data", "hashcache.msgpack.zst")
	cfgVal.Overrides.Path = filepath.Join(base, "overrides.json")
	cfgVal.Hashing.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSources sets the reference source patterns.
func WithSources(patterns ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Index.Sources = append([]string(nil), patterns...)
	}
}

// WithWorkers overrides the identification worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Hashing.Workers = n
	}
}

// WithOverrides writes override rules (JSON) to the configured overrides path.
func WithOverrides(rules string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.WriteFile(b.cfg.Overrides.Path, []byte(rules), 0o644); err != nil {
			b.t.Fatalf("write overrides: %v", err)
		}
	}
}

// WithCatalog writes a catalog document next to the config and points the
// config at it. name selects the format by extension.
func WithCatalog(name, document string, watch bool) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, name)
		if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
			b.t.Fatalf("write catalog: %v", err)
		}
		b.cfg.Catalog.Path = path
		b.cfg.Catalog.Watch = watch
	}
}

// WithMetricsTextfile enables the metrics textfile export.
func WithMetricsTextfile() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Textfile = filepath.Join(b.baseDir, "romid.prom")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WriteConfigFile encodes cfg as TOML next to its temp directories and
// returns the file path.
func WriteConfigFile(t testing.TB, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
