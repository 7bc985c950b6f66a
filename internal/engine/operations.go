package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"romid/internal/archive"
	"romid/internal/faults"
	"romid/internal/identify"
	"romid/internal/logging"
	"romid/internal/refindex"
)

// reporter serializes progress callbacks from concurrent workers.
type reporter struct {
	mu    sync.Mutex
	fn    ProgressFunc
	done  int
	total int
	stage string
}

func newReporter(fn ProgressFunc, stage string, total int) *reporter {
	return &reporter{fn: fn, stage: stage, total: total}
}

func (r *reporter) step(path, message string) {
	if r == nil || r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.fn(Progress{Stage: r.stage, Path: path, Done: r.done, Total: r.total, Message: message})
}

// Identify identifies one file or archive.
func (e *Engine) Identify(ctx context.Context, path string, progress ProgressFunc) (identify.Result, error) {
	rep := newReporter(progress, StageIdentify, 1)
	res, err := e.identifyOne(ctx, path)
	if err != nil {
		return res, err
	}
	rep.step(path, verdictLabel(res))
	return res, nil
}

func (e *Engine) identifyOne(ctx context.Context, path string) (identify.Result, error) {
	start := time.Now()
	var (
		res identify.Result
		err error
	)
	if archive.IsArchive(path) {
		res, err = e.scanner.Scan(ctx, path)
	} else {
		res, err = e.identifier.IdentifyFile(ctx, path)
	}
	if err != nil {
		return res, err
	}
	signal := ""
	if len(res.Signals) > 0 {
		signal = string(res.Signals[len(res.Signals)-1])
	}
	e.metrics.RecordIdentification(signal, res.IsExact, res.Unknown, time.Since(start))
	return res, nil
}

// IdentifyBatch identifies paths with up to the configured number of
// workers. Results keep input order. Per-item problems stay in their results;
// an index failure stops the batch. Cancellation is checked before each item
// starts, and items never started are returned as Unknown with reason
// "cancelled".
func (e *Engine) IdentifyBatch(ctx context.Context, paths []string, progress ProgressFunc) ([]identify.Result, error) {
	results := make([]identify.Result, len(paths))
	rep := newReporter(progress, StageIdentify, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// A started item runs to completion even if the batch is cancelled.
			res, err := e.identifyOne(context.WithoutCancel(gctx), path)
			if err != nil {
				return err
			}
			results[i] = res
			rep.step(path, verdictLabel(res))
			return nil
		})
	}
	err := g.Wait()
	for i := range results {
		if results[i].Path == "" {
			results[i] = identify.Result{Path: paths[i], Unknown: true, Reason: "cancelled"}
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e.logger.Error("identification batch stopped",
			logging.Error(err),
			logging.String(logging.FieldEventType, "batch_failed"),
			logging.String(logging.FieldErrorHint, "run 'romid index check' and rebuild the index if needed"))
	}
	return results, err
}

// RebuildIndex ingests every reference file matched by patterns (the
// configured sources when empty). The index lock is held for the whole run.
func (e *Engine) RebuildIndex(ctx context.Context, patterns []string, force bool, progress ProgressFunc) (refindex.IngestReport, error) {
	if len(patterns) == 0 {
		patterns = e.cfg.Index.Sources
	}
	if len(patterns) == 0 {
		return refindex.IngestReport{}, faults.Wrap(faults.ErrConfiguration, "engine", "rebuild index", "no reference sources configured; set index.sources", nil)
	}
	sources, err := refindex.ExpandSources(patterns)
	if err != nil {
		return refindex.IngestReport{}, err
	}
	e.logger.Info("rebuilding reference index",
		logging.String(logging.FieldPath, e.index.Path()),
		logging.Int("sources", len(sources)))

	var mu sync.Mutex
	report, err := e.index.Ingest(ctx, sources, refindex.IngestOptions{
		Force: force,
		Lock: refindex.LockOptions{
			Wait:   time.Duration(e.cfg.Index.LockWaitSeconds) * time.Second,
			Logger: e.logger,
		},
		Progress: func(p refindex.IngestProgress) {
			if progress == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			progress(Progress{
				Stage:   StageIngest,
				Path:    p.Source,
				Done:    p.Index,
				Total:   p.Total,
				Message: fmt.Sprintf("%s %d entries", p.Action, p.Entries),
			})
		},
	})
	e.metrics.RecordIngest(report)
	return report, err
}

// CoverageReport summarises what the index can identify.
func (e *Engine) CoverageReport(ctx context.Context, progress ProgressFunc) (refindex.CoverageStats, error) {
	stats, err := e.index.Coverage(ctx)
	if err != nil {
		return stats, err
	}
	e.metrics.SetCoverage(stats)
	if progress != nil {
		progress(Progress{Stage: StageCoverage, Done: 1, Total: 1, Message: fmt.Sprintf("%d platforms", len(stats.Platforms))})
	}
	return stats, nil
}

// ExpandInputs turns files and directories into a sorted list of files.
// Directories are walked recursively; hidden files are skipped.
func ExpandInputs(inputs []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", input, err)
		}
		if !info.IsDir() {
			if !seen[input] {
				seen[input] = true
				out = append(out, input)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(input, "**", "*"), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("walk %q: %w", input, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if hidden(input, m) {
				continue
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func verdictLabel(res identify.Result) string {
	if res.PlatformID == "" {
		return "unknown"
	}
	return res.PlatformID
}
