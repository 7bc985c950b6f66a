package catalog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"romid/internal/textutil"
)

// HeaderReadLimit bounds every header inspection.
const HeaderReadLimit = 64 * 1024

func (d *Document) normalize() error {
	for i, ext := range d.HeaderExtensions {
		d.HeaderExtensions[i] = normalizeExt(ext)
	}
	for i := range d.Platforms {
		p := &d.Platforms[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		p.ConflictGroup = strings.ToLower(strings.TrimSpace(p.ConflictGroup))
		for j, ext := range p.Extensions {
			p.Extensions[j] = normalizeExt(ext)
		}
		for j, m := range p.Manifests {
			p.Manifests[j] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(m), "."))
		}
		for j, m := range p.ContainerMedia {
			p.ContainerMedia[j] = strings.ToLower(strings.TrimSpace(m))
		}
		p.folder = phrases(p.FolderTokens)
		p.path = phrases(p.PathTokens)
		p.negative = phrases(p.NegativeTokens)
		for j := range p.HeaderSignatures {
			sig := &p.HeaderSignatures[j]
			switch {
			case sig.Text != "" && sig.Hex != "":
				return fmt.Errorf("platform %s: signature %d sets both text and hex", p.ID, j)
			case sig.Text != "":
				sig.pattern = []byte(sig.Text)
			case sig.Hex != "":
				raw, err := hex.DecodeString(strings.ReplaceAll(sig.Hex, " ", ""))
				if err != nil {
					return fmt.Errorf("platform %s: signature %d: %w", p.ID, j, err)
				}
				sig.pattern = raw
			default:
				return fmt.Errorf("platform %s: signature %d is empty", p.ID, j)
			}
		}
	}
	return nil
}

func phrases(tokens []string) []textutil.Phrase {
	out := make([]textutil.Phrase, 0, len(tokens))
	for _, token := range tokens {
		if phrase := textutil.NewPhrase(token); len(phrase) > 0 {
			out = append(out, phrase)
		}
	}
	return out
}

// Validate checks structural rules of the document.
func (d *Document) Validate() error {
	var errs []error
	if len(d.Platforms) == 0 {
		errs = append(errs, errors.New("no platforms declared"))
	}
	if d.Policy.MinScoreDelta < 0 || d.Policy.MinTopScore < 0 || d.Policy.ContradictionMinScore < 0 {
		errs = append(errs, errors.New("policy thresholds must be non-negative"))
	}
	if d.Weights.Extension <= 0 || d.Weights.Folder <= 0 || d.Weights.Path <= 0 || d.Weights.Negative < 0 {
		errs = append(errs, errors.New("weights must be positive (negative weight may be zero)"))
	}
	seen := make(map[string]struct{}, len(d.Platforms))
	for i, p := range d.Platforms {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("platform %d: id is required", i))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			errs = append(errs, fmt.Errorf("platform %s: duplicate id", p.ID))
		}
		seen[p.ID] = struct{}{}
		for _, sig := range p.HeaderSignatures {
			end := sig.Offset + int64(len(sig.pattern))
			if !sig.Anywhere && (sig.Offset < 0 || end > HeaderReadLimit) {
				errs = append(errs, fmt.Errorf("platform %s: signature at offset %d exceeds the %d byte header region", p.ID, sig.Offset, HeaderReadLimit))
			}
		}
		for _, media := range p.ContainerMedia {
			if !strings.Contains(media, ":") {
				errs = append(errs, fmt.Errorf("platform %s: container media %q must be kind:media", p.ID, media))
			}
		}
	}
	return errors.Join(errs...)
}
