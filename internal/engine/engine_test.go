package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"

	"romid/internal/faults"
	"romid/internal/identify"
	"romid/internal/refindex"
	"romid/internal/testsupport"
)

const snesHeader = "Nintendo - Super Nintendo Entertainment System"

func openEngine(t *testing.T, opts ...testsupport.ConfigOption) *Engine {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	e, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeZip(t *testing.T, path string, name string, data []byte) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestRebuildThenIdentifyBatch(t *testing.T) {
	romA := []byte("chrono trigger image")
	romB := []byte("earthbound image")
	sources := t.TempDir()
	testsupport.WriteBytes(t, filepath.Join(sources, "snes.dat"), []byte(testsupport.LogiqxDAT(snesHeader,
		testsupport.ROM{Game: "Chrono Trigger", Name: "Chrono Trigger.sfc", Data: romA},
		testsupport.ROM{Game: "EarthBound", Name: "EarthBound.sfc", Data: romB},
	)))
	e := openEngine(t, testsupport.WithSources(filepath.Join(sources, "*.dat")))

	report, err := e.RebuildIndex(context.Background(), nil, false, nil)
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if report.Ingested != 1 || report.Entries != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	inputs := t.TempDir()
	paths := []string{
		testsupport.WriteBytes(t, filepath.Join(inputs, "renamed.bin"), romA),
		testsupport.WriteBytes(t, filepath.Join(inputs, "notes.txt"), []byte("hello")),
		writeZip(t, filepath.Join(inputs, "eb.zip"), "EarthBound.sfc", romB),
	}
	var (
		mu    sync.Mutex
		calls []Progress
	)
	results, err := e.IdentifyBatch(context.Background(), paths, func(p Progress) {
		mu.Lock()
		calls = append(calls, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("IdentifyBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Path != paths[i] {
			t.Fatalf("result %d path %q, want %q", i, res.Path, paths[i])
		}
	}
	if results[0].PlatformID != "snes" || !results[0].IsExact {
		t.Fatalf("expected exact snes for renamed rom, got %+v", results[0])
	}
	if !results[1].Unknown {
		t.Fatalf("expected unknown text file, got %+v", results[1])
	}
	if results[2].PlatformID != "snes" || !results[2].IsExact || results[2].InputKind != identify.KindArchive {
		t.Fatalf("expected exact snes archive, got %+v", results[2])
	}
	if len(calls) != 3 || calls[2].Done != 3 || calls[2].Total != 3 {
		t.Fatalf("unexpected progress calls %+v", calls)
	}
}

func TestRebuildWithoutSources(t *testing.T) {
	e := openEngine(t)
	if _, err := e.RebuildIndex(context.Background(), nil, false, nil); !errors.Is(err, faults.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRebuildFailsFastOnLiveLock(t *testing.T) {
	sources := t.TempDir()
	testsupport.WriteBytes(t, filepath.Join(sources, "snes.dat"), []byte(testsupport.LogiqxDAT(snesHeader,
		testsupport.ROM{Game: "A", Name: "A.sfc", Data: []byte("a")})))
	e := openEngine(t, testsupport.WithSources(filepath.Join(sources, "*.dat")))

	lock, err := refindex.AcquireLock(context.Background(), e.Config().IndexPath(), refindex.LockOptions{})
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	_, err = e.RebuildIndex(context.Background(), nil, false, nil)
	var contention *faults.LockContentionError
	if !errors.As(err, &contention) || !contention.RetryLater() {
		t.Fatalf("expected lock contention, got %v", err)
	}
}

func TestIdentifyBatchCancelled(t *testing.T) {
	e := openEngine(t)
	dir := t.TempDir()
	paths := []string{
		testsupport.WriteBytes(t, filepath.Join(dir, "a.sfc"), []byte("a")),
		testsupport.WriteBytes(t, filepath.Join(dir, "b.sfc"), []byte("b")),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := e.IdentifyBatch(ctx, paths, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for i, res := range results {
		if res.Path != paths[i] || !res.Unknown || res.Reason != "cancelled" {
			t.Fatalf("result %d: %+v", i, res)
		}
	}
}

func TestIdentifyBatchFinishesStartedItem(t *testing.T) {
	rom := []byte("super metroid image")
	sources := t.TempDir()
	testsupport.WriteBytes(t, filepath.Join(sources, "snes.dat"), []byte(testsupport.LogiqxDAT(snesHeader,
		testsupport.ROM{Game: "Super Metroid", Name: "Super Metroid.sfc", Data: rom},
	)))
	e := openEngine(t, testsupport.WithSources(filepath.Join(sources, "*.dat")), testsupport.WithWorkers(1))
	if _, err := e.RebuildIndex(context.Background(), nil, false, nil); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	dir := t.TempDir()
	paths := []string{
		testsupport.WriteBytes(t, filepath.Join(dir, "first.bin"), rom),
		testsupport.WriteBytes(t, filepath.Join(dir, "second.bin"), rom),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, err := e.IdentifyBatch(ctx, paths, func(Progress) { cancel() })
	if !errors.Is(err, context.Canceled) || errors.Is(err, faults.ErrIndexCorruption) {
		t.Fatalf("expected plain cancellation, got %v", err)
	}
	if results[0].PlatformID != "snes" || !results[0].IsExact {
		t.Fatalf("started item should finish, got %+v", results[0])
	}
	if !results[1].Unknown || results[1].Reason != "cancelled" {
		t.Fatalf("expected second item cancelled, got %+v", results[1])
	}
}

func TestCatalogReloadLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := testsupport.NewConfig(t)
	e, err := Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if err := e.catalog.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := strings.Count(buf.String(), `"msg":"catalog reloaded"`); got != 1 {
		t.Fatalf("expected one reload line, got %d:\n%s", got, buf.String())
	}
}

func TestCoverageReport(t *testing.T) {
	sources := t.TempDir()
	testsupport.WriteBytes(t, filepath.Join(sources, "snes.dat"), []byte(testsupport.LogiqxDAT(snesHeader,
		testsupport.ROM{Game: "A", Name: "A.sfc", Data: []byte("a")},
		testsupport.ROM{Game: "B", Name: "B.sfc", Data: []byte("b"), ChecksumOnly: true},
	)))
	e := openEngine(t, testsupport.WithSources(sources))
	if _, err := e.RebuildIndex(context.Background(), nil, false, nil); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	var got []Progress
	stats, err := e.CoverageReport(context.Background(), func(p Progress) { got = append(got, p) })
	if err != nil {
		t.Fatalf("CoverageReport: %v", err)
	}
	if len(stats.Platforms) != 1 {
		t.Fatalf("expected one platform, got %+v", stats.Platforms)
	}
	snes := stats.Platforms[0]
	if snes.PlatformID != "snes" || snes.Entries != 2 || snes.Strong != 1 || snes.ChecksumOnly != 1 {
		t.Fatalf("unexpected coverage %+v", snes)
	}
	if len(got) != 1 || got[0].Stage != StageCoverage {
		t.Fatalf("unexpected progress %+v", got)
	}
}

func TestOverridesFromConfig(t *testing.T) {
	e := openEngine(t, testsupport.WithOverrides(`{"overrides":[{"platform":"gba","name_regex":"(?i)^homebrew"}]}`))
	path := testsupport.WriteBytes(t, filepath.Join(t.TempDir(), "Homebrew Demo.sfc"), []byte("demo"))
	res, err := e.Identify(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if res.PlatformID != "gba" || !res.HasSignal(identify.SignalOverrideRule) {
		t.Fatalf("expected override, got %+v", res)
	}

	rule, index, ok, err := e.MatchOverride(path)
	if err != nil || !ok || index != 0 || rule.Platform != "gba" {
		t.Fatalf("MatchOverride = %+v, %d, %v, %v", rule, index, ok, err)
	}
	if _, _, _, err := e.MatchOverride(filepath.Join(t.TempDir(), "missing.sfc")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCloseSavesCacheAndMetrics(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMetricsTextfile())
	e, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := testsupport.WriteBytes(t, filepath.Join(t.TempDir(), "Game.sfc"), []byte("cache me"))
	if _, err := e.Identify(context.Background(), path, nil); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, p := range []string{cfg.Paths.HashCache, cfg.Metrics.Textfile} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s after close: %v", p, err)
		}
	}

	reopened, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if stats := reopened.CacheStats(); stats.Entries != 1 {
		t.Fatalf("expected persisted cache entry, got %+v", stats)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePattern(t, filepath.Join(dir, "b", "two.sfc"), 4, 0)
	testsupport.WritePattern(t, filepath.Join(dir, "a", "one.sfc"), 4, 0)
	testsupport.WritePattern(t, filepath.Join(dir, ".hidden", "skip.sfc"), 4, 0)
	testsupport.WritePattern(t, filepath.Join(dir, "a", ".skip.sfc"), 4, 0)
	single := filepath.Join(t.TempDir(), "single.gba")
	testsupport.WritePattern(t, single, 4, 0)

	got, err := ExpandInputs([]string{dir, single, single})
	if err != nil {
		t.Fatalf("ExpandInputs: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a", "one.sfc"),
		filepath.Join(dir, "b", "two.sfc"),
		single,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpandInputs = %v, want %v", got, want)
	}

	if _, err := ExpandInputs([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected error for missing input")
	}
}
