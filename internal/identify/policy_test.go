package identify

import (
	"testing"

	"romid/internal/catalog"
	"romid/internal/heuristic"
)

var testPolicy = catalog.Policy{MinScoreDelta: 1.0, MinTopScore: 2.0, ContradictionMinScore: 3.0}

func cand(id string, score float64, group string) heuristic.Candidate {
	return heuristic.Candidate{PlatformID: id, Score: score, ConflictGroup: group, Signal: heuristic.SignalExtension}
}

func TestApplyPolicy(t *testing.T) {
	tests := []struct {
		name      string
		cands     []heuristic.Candidate
		confirmed string
		platform  string
		signal    Signal
	}{
		{name: "no candidates", signal: SignalNoCandidates},
		{name: "narrow lead", cands: []heuristic.Candidate{cand("a", 3.0, ""), cand("b", 2.6, "")}, signal: SignalAmbiguous},
		{name: "weak top", cands: []heuristic.Candidate{cand("a", 1.5, "")}, signal: SignalAmbiguous},
		{name: "clear winner", cands: []heuristic.Candidate{cand("a", 4.5, ""), cand("b", 2.0, "")}, platform: "a", signal: SignalHeuristicMatch},
		{name: "sole candidate", cands: []heuristic.Candidate{cand("a", 2.0, "")}, platform: "a", signal: SignalHeuristicMatch},
		{name: "shared conflict group despite gap", cands: []heuristic.Candidate{cand("psx", 4.5, "playstation"), cand("ps2", 2.0, "playstation")}, signal: SignalConflictGroup},
		{name: "shared conflict group with narrow lead", cands: []heuristic.Candidate{cand("psx", 3.0, "playstation"), cand("ps2", 2.8, "playstation")}, signal: SignalConflictGroup},
		{name: "shared conflict group below minimum", cands: []heuristic.Candidate{cand("psx", 1.5, "playstation"), cand("ps2", 1.2, "playstation")}, signal: SignalAmbiguous},
		{name: "different groups", cands: []heuristic.Candidate{cand("psx", 4.5, "playstation"), cand("saturn", 2.0, "sega_disc")}, platform: "psx", signal: SignalHeuristicMatch},
		{name: "structural agrees", cands: []heuristic.Candidate{cand("psx", 4.5, "")}, confirmed: "psx", platform: "psx", signal: SignalStructuralMatch},
		{name: "structural beats weak name", cands: []heuristic.Candidate{cand("saturn", 3.0, "")}, confirmed: "psx", platform: "psx", signal: SignalStructuralMatch},
		{name: "strong name contradicts structure", cands: []heuristic.Candidate{cand("saturn", 4.5, "")}, confirmed: "psx", signal: SignalContradiction},
		{name: "structural without candidates", confirmed: "dreamcast", platform: "dreamcast", signal: SignalStructuralMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ApplyPolicy(tt.cands, testPolicy, tt.confirmed)
			if d.PlatformID != tt.platform || d.Signal != tt.signal {
				t.Fatalf("got %q/%s, want %q/%s (%s)", d.PlatformID, d.Signal, tt.platform, tt.signal, d.Reason)
			}
			if d.Accepted() && d.Reason == "" {
				t.Fatalf("accepted decision without reason")
			}
		})
	}
}

func TestHeuristicConfidenceBand(t *testing.T) {
	tests := []struct {
		top, runner float64
		want        float64
	}{
		{top: 2.0, runner: 0, want: ConfidenceHeuristicMax},
		{top: 4.0, runner: 2.0, want: 0.55},
		{top: 4.0, runner: 4.0, want: ConfidenceHeuristicMin},
		{top: 0, runner: 0, want: ConfidenceHeuristicMin},
	}
	for _, tt := range tests {
		if got := heuristicConfidence(tt.top, tt.runner); got != tt.want {
			t.Fatalf("heuristicConfidence(%v, %v) = %v, want %v", tt.top, tt.runner, got, tt.want)
		}
		if got := heuristicConfidence(tt.top, tt.runner); got >= ConfidenceStructural {
			t.Fatalf("heuristic confidence %v must stay below structural", got)
		}
	}
}
