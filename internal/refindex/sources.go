package refindex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
)

// SourceSpec names one reference file to ingest. PlatformID overrides the
// resolver when set.
type SourceSpec struct {
	Path       string `json:"path"`
	PlatformID string `json:"platform_id,omitempty"`
}

var referenceExtensions = map[string]bool{".dat": true, ".xml": true, ".zip": true}

// ExpandSources resolves glob patterns into source specs sorted by path.
// Plain directories expand to the reference files directly inside them.
func ExpandSources(patterns []string) ([]SourceSpec, error) {
	seen := make(map[string]struct{})
	var out []SourceSpec
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, SourceSpec{Path: abs})
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			pattern = filepath.Join(pattern, "*")
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand source pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			if referenceExtensions[strings.ToLower(filepath.Ext(match))] {
				add(match)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// contentChecksum returns the xxhash64 of the file's bytes.
func contentChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
