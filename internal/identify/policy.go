package identify

import (
	"fmt"
	"math"

	"romid/internal/catalog"
	"romid/internal/heuristic"
)

// Signal is a machine-readable reason attached to a result.
type Signal string

const (
	SignalOverrideRule    Signal = "override_rule"
	SignalExactMatch      Signal = "exact_match"
	SignalChecksumMatch   Signal = "checksum_match"
	SignalExactConflict   Signal = "exact_conflict"
	SignalHashError       Signal = "hash_error"
	SignalStructuralMatch Signal = "structural_match"
	SignalExtensionUnique Signal = "extension_unique"
	SignalHeuristicMatch  Signal = "heuristic_match"
	SignalAmbiguous       Signal = "ambiguous"
	SignalConflictGroup   Signal = "conflict_group"
	SignalContradiction   Signal = "contradiction"
	SignalNoCandidates    Signal = "no_candidates"

	SignalArchiveConsensus  Signal = "archive_consensus"
	SignalArchiveDominant   Signal = "archive_dominant"
	SignalMixedArchive      Signal = "mixed_archive"
	SignalUnreadableArchive Signal = "unreadable_archive"
	SignalNameOnlyFallback  Signal = "name_only_fallback"
)

// Confidence levels. Exact outranks structural, which outranks any heuristic.
const (
	ConfidenceExact        = 1.0
	ConfidenceStructural   = 0.9
	ConfidenceHeuristicMax = 0.8
	ConfidenceHeuristicMin = 0.3
)

// Decision is the outcome of the ambiguity policy. An empty PlatformID means
// Unknown, and Signal names the rule that refused.
type Decision struct {
	PlatformID string
	Signal     Signal
	Confidence float64
	Reason     string
}

// Accepted reports whether the decision names a platform.
func (d Decision) Accepted() bool { return d.PlatformID != "" }

// ApplyPolicy decides between ranked candidates. When confirmed is set, the
// structural platform wins unless a strong heuristic candidate contradicts it.
func ApplyPolicy(cands []heuristic.Candidate, policy catalog.Policy, confirmed string) Decision {
	if confirmed != "" {
		if len(cands) > 0 && cands[0].PlatformID != confirmed && cands[0].Score > policy.ContradictionMinScore {
			return Decision{
				Signal: SignalContradiction,
				Reason: fmt.Sprintf("structure says %s but name scores %s at %.2f", confirmed, cands[0].PlatformID, cands[0].Score),
			}
		}
		return Decision{
			PlatformID: confirmed,
			Signal:     SignalStructuralMatch,
			Confidence: ConfidenceStructural,
			Reason:     "structural validation confirmed " + confirmed,
		}
	}
	if len(cands) == 0 {
		return Decision{Signal: SignalNoCandidates, Reason: "no platform matches the name or extension"}
	}

	top := cands[0]
	runnerUp := 0.0
	if len(cands) > 1 {
		runnerUp = cands[1].Score
	}
	if top.Score < policy.MinTopScore {
		return Decision{
			Signal: SignalAmbiguous,
			Reason: fmt.Sprintf("top score %.2f below minimum %.2f", top.Score, policy.MinTopScore),
		}
	}
	if len(cands) > 1 && top.ConflictGroup != "" && top.ConflictGroup == cands[1].ConflictGroup {
		return Decision{
			Signal: SignalConflictGroup,
			Reason: fmt.Sprintf("%s and %s share conflict group %s", top.PlatformID, cands[1].PlatformID, top.ConflictGroup),
		}
	}
	if len(cands) > 1 && top.Score-runnerUp < policy.MinScoreDelta {
		return Decision{
			Signal: SignalAmbiguous,
			Reason: fmt.Sprintf("%s leads %s by %.2f, need %.2f", top.PlatformID, cands[1].PlatformID, top.Score-runnerUp, policy.MinScoreDelta),
		}
	}
	return Decision{
		PlatformID: top.PlatformID,
		Signal:     SignalHeuristicMatch,
		Confidence: heuristicConfidence(top.Score, runnerUp),
		Reason:     fmt.Sprintf("%s scored %.2f (runner-up %.2f)", top.PlatformID, top.Score, runnerUp),
	}
}

// heuristicConfidence maps the lead over the runner-up onto the heuristic
// band. A sole candidate gets the band maximum.
func heuristicConfidence(top, runnerUp float64) float64 {
	if top <= 0 {
		return ConfidenceHeuristicMin
	}
	margin := (top - runnerUp) / top
	margin = math.Max(0, math.Min(1, margin))
	conf := ConfidenceHeuristicMin + margin*(ConfidenceHeuristicMax-ConfidenceHeuristicMin)
	return math.Round(conf*1000) / 1000
}
