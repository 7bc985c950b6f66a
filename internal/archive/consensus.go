package archive

import (
	"fmt"
	"sort"
	"strings"

	"romid/internal/identify"
)

// Verdict is the container-level decision.
type Verdict struct {
	PlatformID string
	Confidence float64
	IsExact    bool
	Signal     identify.Signal
	Reason     string
}

// Consensus reduces entry results to one platform. Unknown entries are
// ignored. When identified entries disagree, a manifest entry or one holding
// at least ratio of the identified bytes decides; otherwise the archive is
// mixed. sizes parallels entries.
func Consensus(entries []identify.Result, sizes []int64, ratio float64) Verdict {
	var identified []int
	var total int64
	platforms := map[string]bool{}
	for i, e := range entries {
		if e.PlatformID == "" {
			continue
		}
		identified = append(identified, i)
		total += sizes[i]
		platforms[e.PlatformID] = true
	}
	if len(identified) == 0 {
		return Verdict{Signal: identify.SignalNoCandidates, Reason: fmt.Sprintf("none of %d entries identified", len(entries))}
	}

	if len(platforms) == 1 {
		v := Verdict{Signal: identify.SignalArchiveConsensus}
		for _, i := range identified {
			e := entries[i]
			v.PlatformID = e.PlatformID
			v.IsExact = v.IsExact || e.IsExact
			if e.Confidence > v.Confidence {
				v.Confidence = e.Confidence
			}
		}
		v.Reason = fmt.Sprintf("%d of %d entries agree on %s", len(identified), len(entries), v.PlatformID)
		return v
	}

	manifestPlatforms := map[string]int{}
	for _, i := range identified {
		if entries[i].InputKind == identify.KindManifest || isManifestName(entries[i].Path) {
			if _, seen := manifestPlatforms[entries[i].PlatformID]; !seen {
				manifestPlatforms[entries[i].PlatformID] = i
			}
		}
	}
	if len(manifestPlatforms) == 1 {
		for _, i := range manifestPlatforms {
			return dominant(entries[i], "manifest "+entryName(entries[i].Path))
		}
	}

	best := -1
	for _, i := range identified {
		if best < 0 || sizes[i] > sizes[best] {
			best = i
		}
	}
	if total > 0 && float64(sizes[best]) >= ratio*float64(total) {
		return dominant(entries[best], fmt.Sprintf("%s holds %d of %d identified bytes", entryName(entries[best].Path), sizes[best], total))
	}

	names := make([]string, 0, len(platforms))
	for p := range platforms {
		names = append(names, p)
	}
	sort.Strings(names)
	return Verdict{
		Signal: identify.SignalMixedArchive,
		Reason: "entries disagree: " + strings.Join(names, ", "),
	}
}

func dominant(e identify.Result, why string) Verdict {
	return Verdict{
		PlatformID: e.PlatformID,
		Confidence: e.Confidence,
		IsExact:    e.IsExact,
		Signal:     identify.SignalArchiveDominant,
		Reason:     why,
	}
}

func isManifestName(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".cue") || strings.HasSuffix(lower, ".gdi") || strings.HasSuffix(lower, ".m3u")
}

func entryName(p string) string {
	if idx := strings.LastIndex(p, "!"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
