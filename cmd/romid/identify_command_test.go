package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"romid/internal/identify"
	"romid/internal/testsupport"
)

func rebuild(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	out, _, err := runCLI(t, []string{"index", "rebuild"}, env.configPath)
	if err != nil {
		t.Fatalf("index rebuild: %v", err)
	}
	return out
}

func TestIdentifyJSONReportsExactMatch(t *testing.T) {
	env := setupCLITestEnv(t)
	rom := []byte("super metroid image")
	env.writeDAT(t, "snes.dat", snesHeader, testsupport.ROM{Game: "Super Metroid", Name: "Super Metroid.sfc", Data: rom})
	requireContains(t, rebuild(t, env), "1 ingested")

	path := env.writeInput(t, "mystery.bin", rom)
	out, _, err := runCLI(t, []string{"identify", "--json", path}, env.configPath)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	var results []identify.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	got := results[0]
	if got.PlatformID != "snes" || !got.IsExact || got.Confidence != identify.ConfidenceExact {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.Match == nil || got.Match.SetName != "Super Metroid" {
		t.Fatalf("expected match record, got %+v", got.Match)
	}
}

func TestIdentifyTableSummarisesDirectory(t *testing.T) {
	env := setupCLITestEnv(t)
	rom := []byte("zelda image")
	env.writeDAT(t, "snes.dat", snesHeader, testsupport.ROM{Game: "Zelda", Name: "Zelda.sfc", Data: rom})
	rebuild(t, env)

	env.writeInput(t, "a.sfc", rom)
	env.writeInput(t, "notes.txt", []byte("shopping list"))
	env.writeInput(t, ".hidden.sfc", rom)

	out, _, err := runCLI(t, []string{"identify", env.inputDir}, env.configPath)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	requireContains(t, out, "a.sfc")
	requireContains(t, out, "exact_match")
	requireContains(t, out, "1 of 2 identified, 1 exact, 1 unknown")
	if strings.Contains(out, ".hidden.sfc") {
		t.Fatalf("hidden file should be skipped:\n%s", out)
	}
}

func TestIdentifyFailUnknown(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeInput(t, "notes.txt", []byte("nothing"))

	if _, _, err := runCLI(t, []string{"identify", path}, env.configPath); err != nil {
		t.Fatalf("identify without flag: %v", err)
	}
	_, _, err := runCLI(t, []string{"identify", "--fail-unknown", path}, env.configPath)
	if !errors.Is(err, errUnknownItems) {
		t.Fatalf("expected errUnknownItems, got %v", err)
	}
}

func TestIdentifyRequiresInputs(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"identify"}, env.configPath); err == nil {
		t.Fatal("expected argument error")
	}
	if _, _, err := runCLI(t, []string{"identify", t.TempDir()}, env.configPath); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestRenderResultsVerbose(t *testing.T) {
	results := []identify.Result{{
		Path:       "/games/pack.zip",
		InputKind:  identify.KindArchive,
		PlatformID: "snes",
		Confidence: 1,
		IsExact:    true,
		Signals:    []identify.Signal{identify.SignalArchiveConsensus},
		Entries: []identify.Result{{
			Path:       "/games/pack.zip!inner/game.sfc",
			PlatformID: "snes",
			Confidence: 1,
			IsExact:    true,
			Signals:    []identify.Signal{identify.SignalExactMatch},
		}},
	}}
	out := renderResults(results, true, false)
	requireContains(t, out, "pack.zip")
	requireContains(t, out, "  inner/game.sfc")
	requireContains(t, out, "archive_consensus")
	requireContains(t, out, "1.000")
}

func TestIdentifyVerboseShowsArchiveEntries(t *testing.T) {
	env := setupCLITestEnv(t)
	rom := testsupport.PatternBytes(2048, 7)
	env.writeDAT(t, "snes.dat", snesHeader, testsupport.ROM{Game: "Star Fox", Name: "Star Fox.sfc", Data: rom})
	rebuild(t, env)

	zipPath := filepath.Join(env.inputDir, "starfox.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("Star Fox (USA).sfc")
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	if _, err := w.Write(rom); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, _, err := runCLI(t, []string{"identify", "--verbose", zipPath}, env.configPath)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	requireContains(t, out, "starfox.zip")
	requireContains(t, out, "archive_consensus")
	requireContains(t, out, "  Star Fox (USA).sfc")
	requireContains(t, out, "match: Star Fox / Star Fox.sfc (sha1)")
}
