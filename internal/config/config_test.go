package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"romid/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("ROMID_DATA_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "romid")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.HashCache != filepath.Join(wantData, "hashcache.msgpack.zst") {
		t.Fatalf("unexpected hash cache path: %q", cfg.Paths.HashCache)
	}
	if cfg.IndexPath() != filepath.Join(wantData, "index.db") {
		t.Fatalf("unexpected index path: %q", cfg.IndexPath())
	}
	if cfg.Index.BatchSize != 20000 {
		t.Fatalf("unexpected batch size: %d", cfg.Index.BatchSize)
	}
	if strings.Join(cfg.Hashing.Algorithms, ",") != "crc32,sha1" {
		t.Fatalf("unexpected algorithms: %v", cfg.Hashing.Algorithms)
	}
	if cfg.Archive.DominanceRatio != 0.8 {
		t.Fatalf("unexpected dominance ratio: %v", cfg.Archive.DominanceRatio)
	}
}

func TestLoadHonoursDataDirEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("ROMID_DATA_DIR", dataDir)

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("expected data dir from env, got %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir != filepath.Join(dataDir, "logs") {
		t.Fatalf("expected log dir under data dir, got %q", cfg.Paths.LogDir)
	}
}

func TestLoadCustomConfigNormalizesLists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ROMID_DATA_DIR", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "romid.toml")

	payload := map[string]any{
		"paths": map[string]any{"data_dir": filepath.Join(dir, "data")},
		"index": map[string]any{
			"sources":    []string{"  " + filepath.Join(dir, "dats", "**", "*.dat"), "", filepath.Join(dir, "dats", "**", "*.dat")},
			"batch_size": 50000,
		},
		"hashing": map[string]any{"algorithms": []string{"SHA1", "crc32", "sha1"}},
		"logging": map[string]any{"format": "JSON", "level": "Debug"},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected to load %q, got %q (exists=%v)", path, resolved, exists)
	}
	if len(cfg.Index.Sources) != 1 {
		t.Fatalf("expected deduplicated sources, got %v", cfg.Index.Sources)
	}
	if strings.Join(cfg.Hashing.Algorithms, ",") != "sha1,crc32" {
		t.Fatalf("unexpected algorithms: %v", cfg.Hashing.Algorithms)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"batch too small", func(c *config.Config) { c.Index.BatchSize = 10 }, "index.batch_size"},
		{"no strong hash", func(c *config.Config) { c.Hashing.Algorithms = []string{"crc32"} }, "sha1 or sha256"},
		{"unknown algorithm", func(c *config.Config) { c.Hashing.Algorithms = []string{"sha1", "blake3"} }, "unsupported algorithm"},
		{"dominance", func(c *config.Config) { c.Archive.DominanceRatio = 0.4 }, "dominance_ratio"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "romid.toml")
	if err := os.WriteFile(path, []byte("[paths]\nstaging_dir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ROMID_DATA_DIR", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Index.Sources) != 2 {
		t.Fatalf("expected sample sources, got %v", cfg.Index.Sources)
	}
}
