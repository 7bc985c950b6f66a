package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"romid/internal/catalog"
	"romid/internal/digest"
	"romid/internal/faults"
	"romid/internal/heuristic"
	"romid/internal/logging"
	"romid/internal/overrides"
	"romid/internal/refindex"
	"romid/internal/validate"
)

// Input kinds.
const (
	KindFile         = "file"
	KindManifest     = "manifest"
	KindArchive      = "archive"
	KindArchiveEntry = "archive_entry"
)

// Result is the verdict for one input. An empty PlatformID means Unknown;
// Signals always explain how the verdict was reached.
type Result struct {
	Path        string                `json:"path"`
	InputKind   string                `json:"input_kind"`
	PlatformID  string                `json:"platform_id"`
	Unknown     bool                  `json:"unknown"`
	Confidence  float64               `json:"confidence"`
	IsExact     bool                  `json:"is_exact"`
	Signals     []Signal              `json:"signals"`
	Reason      string                `json:"reason"`
	Evidence    string                `json:"evidence,omitempty"`
	Candidates  []heuristic.Candidate `json:"candidates,omitempty"`
	Match       *refindex.Entry       `json:"match,omitempty"`
	MatchMethod string                `json:"match_method,omitempty"`
	Digests     *digest.Set           `json:"digests,omitempty"`
	Defects     []validate.Defect     `json:"defects,omitempty"`
	Entries     []Result              `json:"entries,omitempty"`
}

// HasSignal reports whether s was recorded.
func (r Result) HasSignal(s Signal) bool {
	for _, got := range r.Signals {
		if got == s {
			return true
		}
	}
	return false
}

// Lookup is the reference index read path.
type Lookup interface {
	Lookup(ctx context.Context, set digest.Set, size int64) (*refindex.Match, error)
}

// CatalogSource yields the catalog to use for the next identification.
type CatalogSource interface {
	Current() *catalog.Catalog
}

type staticCatalog struct{ cat *catalog.Catalog }

func (s staticCatalog) Current() *catalog.Catalog { return s.cat }

// Static wraps a fixed catalog.
func Static(cat *catalog.Catalog) CatalogSource { return staticCatalog{cat: cat} }

// Subject is one thing to identify. Digests computes content hashes and Item
// gives validators access to the content.
type Subject struct {
	Path    string
	Kind    string
	Item    validate.Item
	Digests func(algos []digest.Algorithm) (digest.Set, error)
}

// Options configure an Identifier.
type Options struct {
	Hasher     *digest.Hasher
	Index      Lookup
	Catalog    CatalogSource
	Overrides  *overrides.Set
	Algorithms []digest.Algorithm
	Logger     *slog.Logger
}

// Identifier runs the identification steps in priority order.
type Identifier struct {
	hasher    *digest.Hasher
	index     Lookup
	catalog   CatalogSource
	overrides *overrides.Set
	algos     []digest.Algorithm
	logger    *slog.Logger
}

// New builds an Identifier. A nil catalog source uses the built-in catalog.
func New(opts Options) *Identifier {
	cat := opts.Catalog
	if cat == nil {
		cat = Static(catalog.Default())
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = digest.NewHasher(nil, opts.Logger)
	}
	algos := digest.Sorted(opts.Algorithms)
	if len(algos) == 0 {
		algos = []digest.Algorithm{digest.CRC32, digest.SHA1}
	}
	return &Identifier{
		hasher:    hasher,
		index:     opts.Index,
		catalog:   cat,
		overrides: opts.Overrides,
		algos:     algos,
		logger:    logging.NewComponentLogger(opts.Logger, "identify"),
	}
}

// Hasher returns the content hasher.
func (id *Identifier) Hasher() *digest.Hasher { return id.hasher }

// Algorithms returns the digests computed per item.
func (id *Identifier) Algorithms() []digest.Algorithm { return id.algos }

// Catalog returns the catalog currently in effect.
func (id *Identifier) Catalog() *catalog.Catalog { return id.catalog.Current() }

// FileSubject describes a file on disk.
func (id *Identifier) FileSubject(path string) Subject {
	size := int64(-1)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return Subject{
		Path: path,
		Kind: kindForPath(path),
		Item: validate.FileItem(path, size),
		Digests: func(algos []digest.Algorithm) (digest.Set, error) {
			return id.hasher.HashFile(path, algos)
		},
	}
}

func kindForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".gdi", ".m3u":
		return KindManifest
	}
	return KindFile
}

// IdentifyFile identifies a single file on disk.
func (id *Identifier) IdentifyFile(ctx context.Context, path string) (Result, error) {
	return id.Identify(ctx, id.FileSubject(path))
}

// Identify runs override, exact, checksum, structural and heuristic steps in
// that order, stopping at the first that decides. Only index failures are
// returned as errors; everything else is expressed in the result.
func (id *Identifier) Identify(ctx context.Context, subject Subject) (Result, error) {
	cat := id.catalog.Current()
	res := Result{Path: subject.Path, InputKind: subject.Kind}
	if res.InputKind == "" {
		res.InputKind = KindFile
	}

	if overridden, ok := id.MatchOverride(subject.Path, subject.Item.Size); ok {
		overridden.InputKind = res.InputKind
		return overridden, nil
	}

	var conflictReason string
	if subject.Digests != nil {
		set, err := subject.Digests(id.algos)
		switch {
		case err != nil:
			res.Signals = append(res.Signals, SignalHashError)
			res.Reason = err.Error()
			id.logger.Warn("hashing failed",
				logging.String(logging.FieldPath, subject.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "hash_failed"),
				logging.String(logging.FieldImpact, "exact matching skipped for this item"),
			)
		default:
			res.Digests = &set
			decided, reason, lookupErr := id.exact(ctx, &res, set, subject.Item.Size)
			if lookupErr != nil {
				return res, lookupErr
			}
			if decided {
				id.logDecision(res)
				return res, nil
			}
			conflictReason = reason
		}
	}

	structural := validate.Run(ctx, subject.Item, cat)
	res.Defects = structural.Defects
	cands := heuristic.Score(heuristic.Input{Path: subject.Path}, cat)
	res.Candidates = cands

	decision := ApplyPolicy(cands, cat.Policy(), structural.Confirmed)
	if decision.Accepted() && decision.Signal == SignalHeuristicMatch {
		if unique, ok := heuristic.ExtensionUnique(heuristic.Input{Path: subject.Path}, cat); ok && unique == decision.PlatformID {
			decision.Signal = SignalExtensionUnique
		}
	}
	res.Signals = append(res.Signals, decision.Signal)
	res.PlatformID = decision.PlatformID
	res.Confidence = decision.Confidence
	res.Reason = joinReason(res.Reason, conflictReason, decision.Reason)
	if decision.Signal == SignalStructuralMatch {
		res.Evidence = structural.Evidence
	}
	res.Unknown = res.PlatformID == ""
	id.logDecision(res)
	return res, nil
}

// MatchOverride applies the first matching override rule to path.
func (id *Identifier) MatchOverride(path string, size int64) (Result, bool) {
	rule, idx, ok, err := id.overrides.Match(path, size)
	if err != nil {
		logging.WarnWithContext(id.logger, "override rules unavailable", "override_load_failed",
			logging.String(logging.FieldPath, path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the override file; identification continues without overrides"),
		)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	res := Result{
		Path:       path,
		InputKind:  kindForPath(path),
		PlatformID: rule.Platform,
		Confidence: ConfidenceExact,
		Signals:    []Signal{SignalOverrideRule},
		Reason:     "override rule " + rule.Label(idx),
	}
	id.logDecision(res)
	return res, true
}

// exact consults the reference index. It reports whether the result is
// decided; a digest claimed by several platforms is recorded and not decided.
func (id *Identifier) exact(ctx context.Context, res *Result, set digest.Set, size int64) (bool, string, error) {
	if id.index == nil {
		return false, "", nil
	}
	match, err := id.index.Lookup(ctx, set, size)
	if err != nil {
		if errors.Is(err, faults.ErrIndexCorruption) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, "", err
		}
		return false, "", faults.Wrap(faults.ErrIndexCorruption, "identify", "lookup", res.Path, err)
	}
	if match == nil {
		return false, "", nil
	}
	if match.Conflicting() {
		platforms := make([]string, 0, len(match.Ambiguous))
		for _, e := range match.Ambiguous {
			platforms = append(platforms, e.PlatformID)
		}
		sort.Strings(platforms)
		res.Signals = append(res.Signals, SignalExactConflict)
		return false, fmt.Sprintf("%s digest claimed by %s", match.Method, strings.Join(platforms, ", ")), nil
	}
	entry := match.Entry
	res.PlatformID = entry.PlatformID
	res.Confidence = ConfidenceExact
	res.IsExact = true
	res.Match = &entry
	res.MatchMethod = match.Method
	if match.Strong() {
		res.Signals = append(res.Signals, SignalExactMatch)
	} else {
		res.Signals = append(res.Signals, SignalChecksumMatch)
	}
	res.Reason = fmt.Sprintf("%s match %q from %s", match.Method, entry.ItemName, entry.SetName)
	return true, "", nil
}

func joinReason(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}

func (id *Identifier) logDecision(res Result) {
	signal := ""
	if len(res.Signals) > 0 {
		signal = string(res.Signals[len(res.Signals)-1])
	}
	id.logger.Debug("identification decision", logging.Args(logging.VerdictAttrs(logging.Verdict{
		Path:       res.Path,
		Platform:   res.PlatformID,
		Signal:     signal,
		Confidence: res.Confidence,
		Reason:     res.Reason,
	})...)...)
}
