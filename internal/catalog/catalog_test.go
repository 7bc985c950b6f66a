package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	cat := Default()
	if len(cat.Platforms()) < 10 {
		t.Fatalf("expected a populated builtin catalog, got %d platforms", len(cat.Platforms()))
	}
	policy := cat.Policy()
	if policy.MinScoreDelta <= 0 || policy.MinTopScore <= 0 {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if cat.Order("nes") != 0 || cat.Order("missing") != -1 {
		t.Fatal("unexpected declaration order")
	}
	if got := cat.PlatformsForExtension("SFC"); len(got) != 1 || got[0] != "snes" {
		t.Fatalf("unexpected extension owners %v", got)
	}
	if got := cat.PlatformsForExtension(".cue"); len(got) < 2 {
		t.Fatalf("expected .cue to be shared, got %v", got)
	}
	if got := cat.ManifestPlatforms(".gdi"); len(got) != 1 || got[0] != "dreamcast" {
		t.Fatalf("unexpected gdi platforms %v", got)
	}
	if got := cat.ContainerPlatforms("chd:gdrom"); len(got) != 1 || got[0] != "dreamcast" {
		t.Fatalf("unexpected chd:gdrom platforms %v", got)
	}
	if !cat.HeaderExtension("iso") || cat.HeaderExtension(".sfc") {
		t.Fatal("unexpected header extension set")
	}
}

func TestResolveDAT(t *testing.T) {
	cat := Default()
	tests := []struct {
		header, path, want string
		ok                 bool
	}{
		{"Nintendo - Game Boy Color", "", "gbc", true},
		{"Nintendo - Game Boy Advance (Parent-Clone)", "", "gba", true},
		{"Nintendo - Game Boy", "", "gb", true},
		{"", "/dats/Sega - Mega Drive - Genesis (20240101).dat", "genesis", true},
		{"Something Else", "/dats/unknown.dat", "", false},
	}
	for _, tt := range tests {
		got, ok := cat.ResolveDAT(tt.header, tt.path)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ResolveDAT(%q, %q) = %q, %v", tt.header, tt.path, got, ok)
		}
	}
}

const yamlCatalog = `
version: 1
policy:
  min_score_delta: 1.0
  min_top_score: 2.0
  contradiction_min_score: 3.0
weights:
  extension: 2.0
  folder: 1.5
  path: 1.0
  negative: 2.0
platforms:
  - id: ALPHA
    extensions: [alp]
    folder_tokens: ["Alpha Games"]
    header_signatures:
      - offset: 16
        hex: "de ad be ef"
  - id: beta
    extensions: [".bet"]
`

func TestParseYAMLNormalizes(t *testing.T) {
	cat, err := Parse([]byte(yamlCatalog), FormatYAML, "test.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	alpha, ok := cat.Platform("alpha")
	if !ok {
		t.Fatal("expected lowercased id")
	}
	if alpha.Extensions[0] != ".alp" {
		t.Fatalf("extension not normalised: %v", alpha.Extensions)
	}
	if got := alpha.FolderPhrases()[0].String(); got != "alpha games" {
		t.Fatalf("unexpected phrase %q", got)
	}
	if got := alpha.HeaderSignatures[0].Pattern(); len(got) != 4 || got[0] != 0xde {
		t.Fatalf("unexpected pattern %x", got)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"duplicate": strings.Replace(yamlCatalog, "id: beta", "id: alpha", 1),
		"unknown":   yamlCatalog + "surprise: true\n",
		"bad hex":   strings.Replace(yamlCatalog, `"de ad be ef"`, `"zz"`, 1),
		"offset":    strings.Replace(yamlCatalog, "offset: 16", "offset: 70000", 1),
		"weights":   strings.Replace(yamlCatalog, "extension: 2.0", "extension: 0", 1),
	}
	for name, doc := range tests {
		if _, err := Parse([]byte(doc), FormatYAML, name); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yml")
	if err := os.WriteFile(path, []byte(yamlCatalog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Source() != path || len(cat.Platforms()) != 2 {
		t.Fatalf("unexpected catalog from %s", cat.Source())
	}
	if _, err := Load(filepath.Join(dir, "catalog.json")); err == nil {
		t.Fatal("expected unsupported extension error")
	}
	builtin, err := Load("")
	if err != nil || builtin.Source() != "builtin" {
		t.Fatalf("expected builtin catalog, got %v", err)
	}
}
