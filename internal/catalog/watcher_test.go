package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(yamlCatalog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reloaded := make(chan *Catalog, 4)
	w, err := NewWatcher(path, nil, func(c *Catalog) { reloaded <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	updated := strings.Replace(yamlCatalog, "min_score_delta: 1.0", "min_score_delta: 0.5", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if w.Current().Policy().MinScoreDelta == 0.5 {
				return
			}
		case <-deadline:
			t.Fatal("catalog was not reloaded")
		}
	}
}

func TestWatcherKeepsPreviousCatalogOnInvalidReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(yamlCatalog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	before := w.Current()

	if err := os.WriteFile(path, []byte("platforms: ["), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := w.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if w.Current() != before {
		t.Fatal("invalid reload replaced the catalog")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWatcherBuiltinStartIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	w, err := NewWatcher("", nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
