package archive

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"romid/internal/catalog"
	"romid/internal/digest"
	"romid/internal/identify"
	"romid/internal/refindex"
)

type zipEntry struct {
	name string
	data []byte
}

func writeZip(t *testing.T, path string, entries ...zipEntry) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("zip write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func snesIndex(t *testing.T, roms ...[]byte) *refindex.Index {
	t.Helper()
	dir := t.TempDir()
	var games strings.Builder
	for i, rom := range roms {
		sum := sha1.Sum(rom)
		fmt.Fprintf(&games, "\t<game name=\"Game %d\"><rom name=\"Game %d.sfc\" size=\"%d\" crc=\"%08x\" sha1=\"%s\"/></game>\n",
			i, i, len(rom), crc32.ChecksumIEEE(rom), hex.EncodeToString(sum[:]))
	}
	dat := "<?xml version=\"1.0\"?>\n<datafile>\n<header><name>Nintendo - Super Nintendo Entertainment System</name></header>\n" +
		games.String() + "</datafile>\n"
	src := filepath.Join(dir, "snes.dat")
	if err := os.WriteFile(src, []byte(dat), 0o644); err != nil {
		t.Fatalf("write dat: %v", err)
	}
	ix, err := refindex.Open(context.Background(), filepath.Join(dir, "index.db"), refindex.Options{Resolver: catalog.Default().ResolveDAT})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	if _, err := ix.Ingest(context.Background(), []refindex.SourceSpec{{Path: src}}, refindex.IngestOptions{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return ix
}

func TestScanFiveEntryConsensus(t *testing.T) {
	roms := [][]byte{[]byte("rom one"), []byte("rom two"), []byte("rom three"), []byte("rom four")}
	ix := snesIndex(t, roms...)
	archive := writeZip(t, filepath.Join(t.TempDir(), "collection.zip"),
		zipEntry{"a.bin", roms[0]},
		zipEntry{"b.bin", roms[1]},
		zipEntry{"c.bin", roms[2]},
		zipEntry{"d.bin", roms[3]},
		zipEntry{"padding.txt", []byte("nothing to see here, just padding")},
	)

	s := NewScanner(identify.New(identify.Options{Index: ix}), Options{})
	res, err := s.Scan(context.Background(), archive)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Entries) != 5 {
		t.Fatalf("expected 5 entry results, got %d", len(res.Entries))
	}
	if res.PlatformID != "snes" || !res.IsExact {
		t.Fatalf("expected exact snes consensus, got %+v", res)
	}
	if !res.HasSignal(identify.SignalArchiveConsensus) || res.HasSignal(identify.SignalMixedArchive) {
		t.Fatalf("unexpected signals %v", res.Signals)
	}
	if res.Entries[4].PlatformID != "" {
		t.Fatalf("padding entry should stay unknown: %+v", res.Entries[4])
	}
	if res.Entries[0].Path != archive+"!a.bin" {
		t.Fatalf("entry path = %q", res.Entries[0].Path)
	}
}

func TestScanMixedArchive(t *testing.T) {
	archive := writeZip(t, filepath.Join(t.TempDir(), "mixed.zip"),
		zipEntry{"one.sfc", make([]byte, 100)},
		zipEntry{"two.gba", make([]byte, 100)},
	)
	res, err := NewScanner(identify.New(identify.Options{}), Options{}).Scan(context.Background(), archive)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Unknown || !res.HasSignal(identify.SignalMixedArchive) {
		t.Fatalf("expected mixed_archive, got %+v", res)
	}
}

func TestScanDominantEntry(t *testing.T) {
	archive := writeZip(t, filepath.Join(t.TempDir(), "bundle.zip"),
		zipEntry{"game.sfc", make([]byte, 1000)},
		zipEntry{"bonus.gba", make([]byte, 10)},
	)
	res, err := NewScanner(identify.New(identify.Options{}), Options{DominanceRatio: 0.9}).Scan(context.Background(), archive)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.PlatformID != "snes" || !res.HasSignal(identify.SignalArchiveDominant) {
		t.Fatalf("expected dominant snes, got %+v", res)
	}
}

func TestScanUnreadableArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(path, []byte("definitely not a zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := NewScanner(identify.New(identify.Options{}), Options{}).Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Unknown || !res.HasSignal(identify.SignalUnreadableArchive) {
		t.Fatalf("expected unreadable_archive, got %+v", res)
	}
}

func TestScanSevenZipUsesName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snes", "Game.7z")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("7z\xbc\xaf\x27\x1c"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := NewScanner(identify.New(identify.Options{}), Options{}).Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Signals) == 0 || res.Signals[0] != identify.SignalNameOnlyFallback {
		t.Fatalf("expected name_only_fallback first, got %v", res.Signals)
	}
	if res.PlatformID != "snes" || res.IsExact {
		t.Fatalf("expected heuristic snes, got %+v", res)
	}
}

func TestScanEntryLimit(t *testing.T) {
	archive := writeZip(t, filepath.Join(t.TempDir(), "many.zip"),
		zipEntry{"a.sfc", []byte("a")},
		zipEntry{"b.sfc", []byte("b")},
		zipEntry{"c.sfc", []byte("c")},
	)
	res, err := NewScanner(identify.New(identify.Options{}), Options{MaxEntries: 2}).Scan(context.Background(), archive)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 scanned entries, got %d", len(res.Entries))
	}
	if len(res.Defects) != 1 || res.Defects[0].Code != DefectEntryLimit {
		t.Fatalf("expected entry_limit defect, got %+v", res.Defects)
	}
}

func TestScanCachesEntryDigests(t *testing.T) {
	archive := writeZip(t, filepath.Join(t.TempDir(), "cached.zip"), zipEntry{"game.sfc", []byte("cache me")})
	cache := digest.OpenCache("", 16, nil)
	id := identify.New(identify.Options{Hasher: digest.NewHasher(cache, nil)})
	s := NewScanner(id, Options{})
	for i := 0; i < 2; i++ {
		if _, err := s.Scan(context.Background(), archive); err != nil {
			t.Fatalf("Scan %d: %v", i, err)
		}
	}
	if stats := cache.Stats(); stats.Hits == 0 || stats.Entries != 1 {
		t.Fatalf("expected a cache hit on the second scan, got %+v", stats)
	}
}

func TestScanStopsWhenCancelled(t *testing.T) {
	archive := writeZip(t, filepath.Join(t.TempDir(), "cancel.zip"), zipEntry{"game.sfc", []byte("x")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(identify.New(identify.Options{}), Options{}).Scan(ctx, archive); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestConsensusManifestDominates(t *testing.T) {
	entries := []identify.Result{
		{Path: "a.zip!Game.cue", InputKind: identify.KindManifest, PlatformID: "psx", Confidence: 0.9},
		{Path: "a.zip!Track 1.bin", PlatformID: "saturn", Confidence: 0.5},
	}
	v := Consensus(entries, []int64{100, 1 << 20}, 0.99)
	if v.PlatformID != "psx" || v.Signal != identify.SignalArchiveDominant {
		t.Fatalf("expected manifest to dominate, got %+v", v)
	}
}

func TestConsensusNothingIdentified(t *testing.T) {
	v := Consensus([]identify.Result{{Path: "a.zip!x"}}, []int64{1}, 0.9)
	if v.PlatformID != "" || v.Signal != identify.SignalNoCandidates {
		t.Fatalf("expected unknown, got %+v", v)
	}
}
