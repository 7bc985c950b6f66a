package heuristic

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"romid/internal/catalog"
	"romid/internal/textutil"
)

// Signal names.
const (
	SignalExtension = "extension"
	SignalFolder    = "folder"
	SignalPath      = "path"
)

// Candidate is one scored platform guess.
type Candidate struct {
	PlatformID    string   `json:"platform_id"`
	Score         float64  `json:"score"`
	Signal        string   `json:"signal"`
	ConflictGroup string   `json:"conflict_group,omitempty"`
	Order         int      `json:"-"`
	Evidence      []string `json:"evidence,omitempty"`
}

// Input is the part of an item the scorer looks at. Only names are used, so
// renaming or moving a file is the only way to change its score.
type Input struct {
	Path string
}

// Parts splits a path into folded folder tokens per directory, and the tokens
// of the whole path including the file stem.
func (in Input) parts() (ext string, folders [][]string, all []string) {
	clean := filepath.ToSlash(filepath.Clean(in.Path))
	base := clean
	var dirs []string
	if idx := strings.LastIndex(clean, "/"); idx >= 0 {
		base = clean[idx+1:]
		dirs = strings.Split(clean[:idx], "/")
	}
	ext = strings.ToLower(filepath.Ext(base))
	for _, dir := range dirs {
		tokens := textutil.Tokenize(dir)
		if len(tokens) == 0 {
			continue
		}
		folders = append(folders, tokens)
		all = append(all, tokens...)
	}
	all = append(all, textutil.Tokenize(strings.TrimSuffix(base, filepath.Ext(base)))...)
	return ext, folders, all
}

// Score ranks every platform the path suggests. Candidates scoring zero or
// less are dropped; ties keep catalog declaration order.
func Score(in Input, cat *catalog.Catalog) []Candidate {
	ext, folders, all := in.parts()
	weights := cat.Weights()
	var out []Candidate
	for i, p := range cat.Platforms() {
		c := Candidate{PlatformID: p.ID, ConflictGroup: p.ConflictGroup, Order: i}
		best := 0.0
		note := func(signal string, weight float64, evidence string) {
			c.Score += weight
			c.Evidence = append(c.Evidence, evidence)
			if weight > best {
				best = weight
				c.Signal = signal
			}
		}
		if ext != "" {
			for _, e := range p.Extensions {
				if e == ext {
					note(SignalExtension, weights.Extension, "extension "+ext)
					break
				}
			}
		}
		if phrase, ok := folderMatch(p.FolderPhrases(), folders); ok {
			note(SignalFolder, weights.Folder, "folder "+phrase.String())
		}
		for _, phrase := range p.PathPhrases() {
			if phrase.In(all) {
				note(SignalPath, weights.Path, "path "+phrase.String())
				break
			}
		}
		for _, phrase := range p.NegativePhrases() {
			if phrase.In(all) {
				c.Score -= weights.Negative
				c.Evidence = append(c.Evidence, "negative "+phrase.String())
				break
			}
		}
		c.Score = round(c.Score)
		if c.Score <= 0 {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].Order < out[b].Order
	})
	return out
}

func folderMatch(phrases []textutil.Phrase, folders [][]string) (textutil.Phrase, bool) {
	for _, phrase := range phrases {
		for _, folder := range folders {
			if phrase.In(folder) {
				return phrase, true
			}
		}
	}
	return nil, false
}

// ExtensionUnique reports the single platform claiming the path's extension.
func ExtensionUnique(in Input, cat *catalog.Catalog) (string, bool) {
	ext := strings.ToLower(filepath.Ext(in.Path))
	if ext == "" {
		return "", false
	}
	platforms := cat.PlatformsForExtension(ext)
	if len(platforms) != 1 {
		return "", false
	}
	return platforms[0], true
}

// round keeps scores stable across float accumulation order.
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
