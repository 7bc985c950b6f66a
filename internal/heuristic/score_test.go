package heuristic

import (
	"reflect"
	"testing"

	"romid/internal/catalog"
)

func ids(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.PlatformID)
	}
	return out
}

func TestScoreCombinesSignals(t *testing.T) {
	cands := Score(Input{Path: "roms/SNES/Chrono Trigger (USA).sfc"}, catalog.Default())
	if len(cands) != 1 {
		t.Fatalf("expected a single candidate, got %+v", cands)
	}
	top := cands[0]
	if top.PlatformID != "snes" || top.Score != 4.5 || top.Signal != SignalExtension {
		t.Fatalf("unexpected candidate %+v", top)
	}
	if len(top.Evidence) != 3 {
		t.Fatalf("expected three pieces of evidence, got %v", top.Evidence)
	}
}

func TestScoreNegativeTokensDropCandidates(t *testing.T) {
	cands := Score(Input{Path: "library/PS2/Game.iso"}, catalog.Default())
	for _, c := range cands {
		if c.PlatformID == "psx" {
			t.Fatalf("psx should be cancelled by the ps2 negative token: %+v", c)
		}
	}
	if len(cands) == 0 || cands[0].PlatformID != "ps2" || cands[0].Score != 4.5 {
		t.Fatalf("expected ps2 on top, got %+v", cands)
	}
}

func TestScoreTiesFollowCatalogOrder(t *testing.T) {
	cat := catalog.Default()
	cands := Score(Input{Path: "dump.bin"}, cat)
	if len(cands) < 2 {
		t.Fatalf("expected several .bin candidates, got %+v", cands)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Score != cands[0].Score {
			t.Fatalf("expected equal scores, got %+v", cands)
		}
		if cands[i].Order <= cands[i-1].Order {
			t.Fatalf("ties out of catalog order: %v", ids(cands))
		}
	}
}

func TestScoreFoldsDiacritics(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
version = 1
[policy]
min_score_delta = 1.0
min_top_score = 2.0
contradiction_min_score = 3.0
[weights]
extension = 2.0
folder = 1.5
path = 1.0
negative = 2.0
[[platforms]]
id = "snes"
name = "Super Famicom"
extensions = [".sfc"]
folder_tokens = ["super famicom"]
`), catalog.FormatTOML, "test")
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	cands := Score(Input{Path: "SÚPER_FAMICÓM/Pokémon.sfc"}, cat)
	if len(cands) != 1 || cands[0].Score != 3.5 {
		t.Fatalf("expected folded folder match, got %+v", cands)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	cat := catalog.Default()
	first := Score(Input{Path: "games/Sega Saturn/Game (Disc 1).cue"}, cat)
	for i := 0; i < 5; i++ {
		if again := Score(Input{Path: "games/Sega Saturn/Game (Disc 1).cue"}, cat); !reflect.DeepEqual(first, again) {
			t.Fatalf("scores changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestExtensionUnique(t *testing.T) {
	cat := catalog.Default()
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{path: "x/Game.SFC", want: "snes", ok: true},
		{path: "x/Game.gba", want: "gba", ok: true},
		{path: "x/Game.bin"},
		{path: "x/README"},
	}
	for _, tt := range tests {
		got, ok := ExtensionUnique(Input{Path: tt.path}, cat)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ExtensionUnique(%q) = %q,%v want %q,%v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
