package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"romid/internal/textutil"
)

//go:embed default.toml
var defaultDocument []byte

// Policy holds the ambiguity thresholds applied to heuristic candidates.
type Policy struct {
	MinScoreDelta         float64 `toml:"min_score_delta" yaml:"min_score_delta" json:"min_score_delta"`
	MinTopScore           float64 `toml:"min_top_score" yaml:"min_top_score" json:"min_top_score"`
	ContradictionMinScore float64 `toml:"contradiction_min_score" yaml:"contradiction_min_score" json:"contradiction_min_score"`
}

// Weights are the per-signal scores added or subtracted by the scorer.
type Weights struct {
	Extension float64 `toml:"extension" yaml:"extension" json:"extension"`
	Folder    float64 `toml:"folder" yaml:"folder" json:"folder"`
	Path      float64 `toml:"path" yaml:"path" json:"path"`
	Negative  float64 `toml:"negative" yaml:"negative" json:"negative"`
}

// Signature is a byte pattern in the leading region of a disc or ROM image.
// Exactly one of Text or Hex is set. Anywhere searches the whole bounded
// region instead of the fixed Offset.
type Signature struct {
	Offset   int64  `toml:"offset" yaml:"offset" json:"offset"`
	Anywhere bool   `toml:"anywhere" yaml:"anywhere" json:"anywhere,omitempty"`
	Text     string `toml:"text" yaml:"text" json:"text,omitempty"`
	Hex      string `toml:"hex" yaml:"hex" json:"hex,omitempty"`

	pattern []byte
}

// Pattern returns the decoded bytes to match.
func (s Signature) Pattern() []byte {
	return s.pattern
}

// Platform is one catalog entry.
type Platform struct {
	ID               string      `toml:"id" yaml:"id" json:"id"`
	Name             string      `toml:"name" yaml:"name" json:"name"`
	Extensions       []string    `toml:"extensions" yaml:"extensions" json:"extensions,omitempty"`
	FolderTokens     []string    `toml:"folder_tokens" yaml:"folder_tokens" json:"folder_tokens,omitempty"`
	PathTokens       []string    `toml:"path_tokens" yaml:"path_tokens" json:"path_tokens,omitempty"`
	NegativeTokens   []string    `toml:"negative_tokens" yaml:"negative_tokens" json:"negative_tokens,omitempty"`
	ConflictGroup    string      `toml:"conflict_group" yaml:"conflict_group" json:"conflict_group,omitempty"`
	DATNames         []string    `toml:"dat_names" yaml:"dat_names" json:"dat_names,omitempty"`
	Manifests        []string    `toml:"manifests" yaml:"manifests" json:"manifests,omitempty"`
	HeaderSignatures []Signature `toml:"header_signatures" yaml:"header_signatures" json:"header_signatures,omitempty"`
	ContainerMedia   []string    `toml:"container_media" yaml:"container_media" json:"container_media,omitempty"`

	folder   []textutil.Phrase
	path     []textutil.Phrase
	negative []textutil.Phrase
}

// FolderPhrases returns the tokenized folder tokens.
func (p *Platform) FolderPhrases() []textutil.Phrase { return p.folder }

// PathPhrases returns the tokenized path tokens.
func (p *Platform) PathPhrases() []textutil.Phrase { return p.path }

// NegativePhrases returns the tokenized negative tokens.
func (p *Platform) NegativePhrases() []textutil.Phrase { return p.negative }

// Document is the on-disk catalog layout.
type Document struct {
	Version          int        `toml:"version" yaml:"version" json:"version"`
	Policy           Policy     `toml:"policy" yaml:"policy" json:"policy"`
	Weights          Weights    `toml:"weights" yaml:"weights" json:"weights"`
	HeaderExtensions []string   `toml:"header_extensions" yaml:"header_extensions" json:"header_extensions"`
	Platforms        []Platform `toml:"platforms" yaml:"platforms" json:"platforms"`
}

// Catalog is an immutable, indexed platform catalog. Platform order is the
// declaration order and breaks scoring ties.
type Catalog struct {
	source    string
	doc       Document
	byID      map[string]int
	byExt     map[string][]string
	headerExt map[string]bool
}

// Default returns the built-in catalog.
func Default() *Catalog {
	cat, err := Parse(defaultDocument, FormatTOML, "builtin")
	if err != nil {
		panic(fmt.Sprintf("builtin catalog invalid: %v", err))
	}
	return cat
}

// Formats accepted by Parse.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// FormatForPath infers the document format from a file extension.
func FormatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("catalog %s: unsupported extension (want .toml, .yaml or .yml)", path)
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, format, path)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte, format, source string) (*Catalog, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var doc Document
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", source, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", source, err)
		}
	default:
		return nil, fmt.Errorf("parse catalog %s: unknown format %q", source, format)
	}
	if err := doc.normalize(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", source, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", source, err)
	}
	return index(doc, source), nil
}

func index(doc Document, source string) *Catalog {
	c := &Catalog{
		source:    source,
		doc:       doc,
		byID:      make(map[string]int, len(doc.Platforms)),
		byExt:     make(map[string][]string),
		headerExt: make(map[string]bool, len(doc.HeaderExtensions)),
	}
	for i := range doc.Platforms {
		p := &c.doc.Platforms[i]
		c.byID[p.ID] = i
		for _, ext := range p.Extensions {
			c.byExt[ext] = append(c.byExt[ext], p.ID)
		}
	}
	for _, ext := range doc.HeaderExtensions {
		c.headerExt[ext] = true
	}
	return c
}

// Source names where the catalog was loaded from.
func (c *Catalog) Source() string { return c.source }

// Document returns a copy of the decoded document.
func (c *Catalog) Document() Document { return c.doc }

// Policy returns the ambiguity thresholds.
func (c *Catalog) Policy() Policy { return c.doc.Policy }

// Weights returns the scoring weights.
func (c *Catalog) Weights() Weights { return c.doc.Weights }

// Platforms returns platforms in declaration order. Callers must not modify
// the returned values.
func (c *Catalog) Platforms() []Platform { return c.doc.Platforms }

// Platform looks up a platform by identifier.
func (c *Catalog) Platform(id string) (*Platform, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.doc.Platforms[i], true
}

// Order returns the declaration index of a platform, or -1.
func (c *Catalog) Order(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// PlatformsForExtension lists platforms claiming ext, in declaration order.
func (c *Catalog) PlatformsForExtension(ext string) []string {
	return c.byExt[normalizeExt(ext)]
}

// HeaderExtension reports whether files with ext get header inspection.
func (c *Catalog) HeaderExtension(ext string) bool {
	return c.headerExt[normalizeExt(ext)]
}

// ConflictGroup returns the declared conflict group of a platform.
func (c *Catalog) ConflictGroup(id string) string {
	if p, ok := c.Platform(id); ok {
		return p.ConflictGroup
	}
	return ""
}

// ManifestPlatforms lists platforms confirmed by a complete manifest of kind
// (for example "gdi").
func (c *Catalog) ManifestPlatforms(kind string) []string {
	kind = strings.ToLower(strings.TrimPrefix(kind, "."))
	var out []string
	for _, p := range c.doc.Platforms {
		for _, m := range p.Manifests {
			if m == kind {
				out = append(out, p.ID)
				break
			}
		}
	}
	return out
}

// ContainerPlatforms lists platforms declaring a container media key such as
// "chd:gdrom".
func (c *Catalog) ContainerPlatforms(key string) []string {
	key = strings.ToLower(key)
	var out []string
	for _, p := range c.doc.Platforms {
		for _, m := range p.ContainerMedia {
			if m == key {
				out = append(out, p.ID)
				break
			}
		}
	}
	return out
}

// ResolveDAT maps a reference file header name (or, failing that, its file
// name) to a platform. The longest matching dat name wins.
func (c *Catalog) ResolveDAT(headerName, path string) (string, bool) {
	candidates := []string{strings.ToLower(strings.TrimSpace(headerName))}
	if path != "" {
		base := filepath.Base(path)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		candidates = append(candidates, strings.ToLower(base))
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		best, bestLen := "", 0
		for _, p := range c.doc.Platforms {
			for _, name := range p.DATNames {
				lower := strings.ToLower(name)
				if strings.HasPrefix(candidate, lower) && len(lower) > bestLen {
					best, bestLen = p.ID, len(lower)
				}
			}
		}
		if best != "" {
			return best, true
		}
	}
	return "", false
}

// IDs returns platform identifiers sorted alphabetically.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
