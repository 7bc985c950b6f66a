package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"romid/internal/digest"
	"romid/internal/faults"
	"romid/internal/identify"
	"romid/internal/logging"
	"romid/internal/validate"
)

// Defaults for Options.
const (
	DefaultMaxEntries     = 4096
	DefaultDominanceRatio = 0.9
)

// DefectEntryLimit marks an archive with more entries than were scanned.
const DefectEntryLimit = "entry_limit"

// IsArchive reports whether path names a container the scanner handles.
func IsArchive(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".zip", ".7z", ".rar":
		return true
	}
	return false
}

// Options configure a Scanner.
type Options struct {
	MaxEntries     int
	DominanceRatio float64
	Logger         *slog.Logger
}

// Scanner identifies the entries of a container and reduces them to one
// verdict for the container.
type Scanner struct {
	id        *identify.Identifier
	maxEnt    int
	dominance float64
	logger    *slog.Logger
}

// NewScanner builds a Scanner on top of id.
func NewScanner(id *identify.Identifier, opts Options) *Scanner {
	maxEnt := opts.MaxEntries
	if maxEnt <= 0 {
		maxEnt = DefaultMaxEntries
	}
	dominance := opts.DominanceRatio
	if dominance <= 0 || dominance > 1 {
		dominance = DefaultDominanceRatio
	}
	return &Scanner{
		id:        id,
		maxEnt:    maxEnt,
		dominance: dominance,
		logger:    logging.NewComponentLogger(opts.Logger, "archive"),
	}
}

// Scan identifies the container at p. Entries are streamed through the
// hasher and never extracted. Only index failures and cancellation are
// returned as errors.
func (s *Scanner) Scan(ctx context.Context, p string) (identify.Result, error) {
	info, statErr := os.Stat(p)
	size := int64(-1)
	if statErr == nil {
		size = info.Size()
	}
	if res, ok := s.id.MatchOverride(p, size); ok {
		res.InputKind = identify.KindArchive
		return res, nil
	}
	if strings.ToLower(filepath.Ext(p)) != ".zip" {
		return s.nameOnly(ctx, p, size)
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		return s.unreadable(p, err), nil
	}
	defer zr.Close()

	var modTime time.Time
	if statErr == nil {
		modTime = info.ModTime()
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}

	res := identify.Result{Path: p, InputKind: identify.KindArchive}
	if len(files) > s.maxEnt {
		res.Defects = append(res.Defects, validate.Defect{
			Validator: "archive",
			Code:      DefectEntryLimit,
			Detail:    fmt.Sprintf("%d entries, scanned first %d", len(files), s.maxEnt),
		})
		logging.WarnWithContext(s.logger, "archive entry limit reached", "archive_entry_limit",
			logging.String(logging.FieldPath, p),
			logging.Int("entries", len(files)),
			logging.Int("limit", s.maxEnt),
			logging.String(logging.FieldImpact, "remaining entries are not identified"),
		)
		files = files[:s.maxEnt]
	}

	byName := make(map[string]*zip.File, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entryRes, err := s.id.Identify(ctx, s.entrySubject(p, modTime, f, byName))
		if err != nil {
			return res, err
		}
		res.Entries = append(res.Entries, entryRes)
	}

	sizes := make([]int64, len(files))
	for i, f := range files {
		sizes[i] = int64(f.UncompressedSize64)
	}
	verdict := Consensus(res.Entries, sizes, s.dominance)
	res.PlatformID = verdict.PlatformID
	res.Confidence = verdict.Confidence
	res.IsExact = verdict.IsExact
	res.Signals = append(res.Signals, verdict.Signal)
	res.Reason = verdict.Reason
	res.Unknown = res.PlatformID == ""
	return res, nil
}

func (s *Scanner) entrySubject(container string, modTime time.Time, f *zip.File, byName map[string]*zip.File) identify.Subject {
	display := container + "!" + f.Name
	size := int64(f.UncompressedSize64)
	hasher := s.id.Hasher()
	dir := path.Dir(f.Name)
	item := validate.Item{
		Path: display,
		Name: path.Base(f.Name),
		Size: size,
		Open: func() (io.ReadCloser, error) { return f.Open() },
		Sibling: func(name string) (validate.Member, bool) {
			target := path.Clean(path.Join(dir, strings.ReplaceAll(name, `\`, "/")))
			sib, ok := byName[target]
			if !ok {
				return validate.Member{Name: name}, false
			}
			return validate.Member{
				Name: name,
				Size: int64(sib.UncompressedSize64),
				Open: func() (io.ReadCloser, error) { return sib.Open() },
			}, true
		},
	}
	return identify.Subject{
		Path: display,
		Kind: identify.KindArchiveEntry,
		Item: item,
		Digests: func(algos []digest.Algorithm) (digest.Set, error) {
			rc, err := f.Open()
			if err != nil {
				return digest.Set{}, &faults.HashIOError{Path: display, Err: err}
			}
			defer rc.Close()
			return hasher.HashStream(digest.EntryKey(container, f.Name, size, modTime), rc, algos)
		},
	}
}

// nameOnly handles containers without entry streaming support.
func (s *Scanner) nameOnly(ctx context.Context, p string, size int64) (identify.Result, error) {
	res, err := s.id.Identify(ctx, identify.Subject{
		Path: p,
		Kind: identify.KindArchive,
		Item: validate.Item{Path: p, Name: filepath.Base(p), Size: size},
	})
	if err != nil {
		return res, err
	}
	res.Signals = append([]identify.Signal{identify.SignalNameOnlyFallback}, res.Signals...)
	return res, nil
}

func (s *Scanner) unreadable(p string, err error) identify.Result {
	perr := &faults.ArchiveParseError{Path: p, Err: err}
	logging.WarnWithContext(s.logger, "archive unreadable", "archive_unreadable",
		logging.String(logging.FieldPath, p),
		logging.Error(perr),
		logging.String(logging.FieldImpact, "container reported as unknown"),
	)
	return identify.Result{
		Path:      p,
		InputKind: identify.KindArchive,
		Unknown:   true,
		Signals:   []identify.Signal{identify.SignalUnreadableArchive},
		Reason:    perr.Error(),
	}
}
