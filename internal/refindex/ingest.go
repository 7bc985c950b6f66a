package refindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"romid/internal/datfile"
	"romid/internal/faults"
	"romid/internal/logging"
)

// Source actions reported by Ingest.
const (
	ActionIngested = "ingested"
	ActionSkipped  = "skipped"
	ActionPurged   = "purged"
	ActionFailed   = "failed"
)

// ErrNoPlatform is recorded for sources that no platform claims.
var ErrNoPlatform = errors.New("no platform mapping for reference file")

// IngestOptions controls one ingest run.
type IngestOptions struct {
	RunID string
	// Force reingests sources whose content is unchanged.
	Force bool
	// KeepUnlisted leaves recorded sources absent from the list untouched.
	KeepUnlisted bool
	Lock         LockOptions
	Progress     func(IngestProgress)
}

// IngestProgress is reported after each batch and each source.
type IngestProgress struct {
	Source  string
	Index   int
	Total   int
	Entries int
	Action  string
}

// SourceReport describes what happened to one source.
type SourceReport struct {
	Path       string   `json:"path"`
	Action     string   `json:"action"`
	PlatformID string   `json:"platform_id,omitempty"`
	Entries    int      `json:"entries"`
	Malformed  int      `json:"malformed"`
	Problems   []string `json:"problems,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// IngestReport summarises an ingest run.
type IngestReport struct {
	RunID     string         `json:"run_id"`
	Sources   []SourceReport `json:"sources"`
	Ingested  int            `json:"ingested"`
	Skipped   int            `json:"skipped"`
	Purged    int            `json:"purged"`
	Failed    int            `json:"failed"`
	Entries   int            `json:"entries"`
	Malformed int            `json:"malformed"`
	// Writes counts rows changed by this run.
	Writes    int64         `json:"writes"`
	Duration  time.Duration `json:"duration"`
	Cancelled bool          `json:"cancelled"`
}

func (r *IngestReport) add(sr SourceReport) {
	r.Sources = append(r.Sources, sr)
	switch sr.Action {
	case ActionIngested:
		r.Ingested++
		r.Entries += sr.Entries
	case ActionSkipped:
		r.Skipped++
	case ActionPurged:
		r.Purged++
	case ActionFailed:
		r.Failed++
	}
	r.Malformed += sr.Malformed
}

// Ingest brings the index in line with sources under the index lock. Each
// changed source is replaced in one transaction, so readers see either its
// old or its new entries. Recorded sources that are missing on disk, or not
// listed unless KeepUnlisted is set, are deactivated and their entries purged.
// Cancellation is checked between sources; completed sources stay committed.
func (ix *Index) Ingest(ctx context.Context, sources []SourceSpec, opts IngestOptions) (IngestReport, error) {
	started := time.Now()
	report := IngestReport{RunID: opts.RunID}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = ix.logger
	}

	lock, err := AcquireLock(ctx, ix.path, opts.Lock)
	if err != nil {
		return report, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.WarnWithContext(ix.logger, "failed to release index lock", "index_lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the lock file if no romid process is running"))
		}
	}()

	conn, err := ix.writer.Conn(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire writer connection: %w", err)
	}
	defer conn.Close()

	before, err := totalChanges(ctx, conn)
	if err != nil {
		return report, err
	}
	recorded, err := loadSources(ctx, conn)
	if err != nil {
		return report, faults.Wrap(faults.ErrIndexCorruption, "refindex", "ingest", "load sources", err)
	}

	logger := ix.logger.With(logging.String(logging.FieldRunID, report.RunID))
	logger.Info("index ingest started", logging.Int("sources", len(sources)))

	listed := make(map[string]struct{}, len(sources))
	var runErr error
	for i, spec := range sources {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			runErr = err
			break
		}
		path, absErr := filepath.Abs(spec.Path)
		if absErr != nil {
			path = spec.Path
		}
		if _, dup := listed[path]; dup {
			continue
		}
		listed[path] = struct{}{}
		spec.Path = path

		sr, err := ix.ingestSource(ctx, conn, spec, recorded[path], report.RunID, opts, i, len(sources))
		if err != nil {
			if faults.Fatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				runErr = err
				report.Cancelled = ctx.Err() != nil
				break
			}
			sr.Action = ActionFailed
			sr.Error = err.Error()
			logging.WarnWithContext(logger, "reference file not ingested", "ingest_source_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the file is a supported DAT and maps to a catalog platform"),
				logging.String(logging.FieldImpact, "entries from this file are unavailable for exact matching"))
		}
		report.add(sr)
		if opts.Progress != nil {
			opts.Progress(IngestProgress{Source: path, Index: i + 1, Total: len(sources), Entries: sr.Entries, Action: sr.Action})
		}
	}

	if runErr == nil && !opts.KeepUnlisted {
		for _, path := range sortedKeys(recorded) {
			src := recorded[path]
			if _, ok := listed[path]; ok || !src.Active {
				continue
			}
			if err := ctx.Err(); err != nil {
				report.Cancelled = true
				runErr = err
				break
			}
			if err := purgeSource(ctx, conn, src.ID); err != nil {
				runErr = err
				break
			}
			logger.Info("reference file no longer listed; entries purged", logging.String(logging.FieldPath, path))
			report.add(SourceReport{Path: path, Action: ActionPurged, PlatformID: src.PlatformID})
		}
	}

	if after, err := totalChanges(context.WithoutCancel(ctx), conn); err == nil {
		report.Writes = after - before
	}
	report.Duration = time.Since(started)

	logger.Info("index ingest finished",
		logging.Int("ingested", report.Ingested),
		logging.Int("skipped", report.Skipped),
		logging.Int("purged", report.Purged),
		logging.Int("failed", report.Failed),
		logging.Int("entries", report.Entries),
		logging.Int("malformed", report.Malformed),
		logging.Int64("writes", report.Writes),
		logging.Duration("elapsed", report.Duration),
		logging.Bool("cancelled", report.Cancelled))
	return report, runErr
}

func (ix *Index) ingestSource(ctx context.Context, conn *sql.Conn, spec SourceSpec, prev *SourceFile, runID string, opts IngestOptions, index, total int) (SourceReport, error) {
	sr := SourceReport{Path: spec.Path}

	info, err := os.Stat(spec.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return sr, err
		}
		if prev == nil || !prev.Active {
			sr.Action = ActionSkipped
			sr.Error = "missing on disk"
			return sr, nil
		}
		if err := purgeSource(ctx, conn, prev.ID); err != nil {
			return sr, err
		}
		ix.logger.Info("reference file missing; entries purged", logging.String(logging.FieldPath, spec.Path))
		sr.Action = ActionPurged
		sr.PlatformID = prev.PlatformID
		return sr, nil
	}

	checksum, err := contentChecksum(spec.Path)
	if err != nil {
		return sr, fmt.Errorf("checksum %s: %w", spec.Path, err)
	}
	if prev != nil && prev.Active && prev.ContentChecksum == checksum && !opts.Force &&
		(spec.PlatformID == "" || spec.PlatformID == prev.PlatformID) {
		sr.Action = ActionSkipped
		sr.PlatformID = prev.PlatformID
		sr.Entries = prev.EntryCount
		return sr, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return sr, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sourceID, err := upsertSource(ctx, tx, spec.Path, info, checksum, runID)
	if err != nil {
		return sr, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_entries WHERE source_id = ?`, sourceID); err != nil {
		return sr, fmt.Errorf("delete previous entries: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `INSERT INTO reference_entries
        (source_id, platform_id, item_name, set_name, crc32, md5, sha1, sha256, size, flags)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sr, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	platformID := spec.PlatformID
	var header datfile.Header
	inBatch := 0
	summary, err := datfile.ParseFile(spec.Path, func(rec datfile.Record) error {
		if platformID == "" {
			platformID = ix.resolvePlatform(header, spec.Path)
			if platformID == "" {
				return ErrNoPlatform
			}
		}
		if _, err := insert.ExecContext(ctx, sourceID, platformID, rec.ItemName, rec.SetName,
			nullable(rec.Digests.CRC32), nullable(rec.Digests.MD5), nullable(rec.Digests.SHA1), nullable(rec.Digests.SHA256),
			rec.Size, rec.Status); err != nil {
			return fmt.Errorf("insert entry %q: %w", rec.ItemName, err)
		}
		sr.Entries++
		inBatch++
		if inBatch >= ix.batchSize {
			inBatch = 0
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.Progress != nil {
				opts.Progress(IngestProgress{Source: spec.Path, Index: index, Total: total, Entries: sr.Entries})
			}
		}
		return nil
	}, func(h datfile.Header) { header = h })
	if err != nil {
		return sr, err
	}
	if platformID == "" {
		platformID = ix.resolvePlatform(summary.Header, spec.Path)
	}

	sr.Malformed = summary.Malformed
	for _, problem := range summary.Problems {
		sr.Problems = append(sr.Problems, problem.Error())
	}
	sr.PlatformID = platformID

	if _, err := tx.ExecContext(ctx, `UPDATE source_files
        SET dialect = ?, header_name = ?, platform_id = ?, entry_count = ?, malformed_count = ?
        WHERE id = ?`,
		string(summary.Dialect), summary.Header.Name, platformID, sr.Entries, sr.Malformed, sourceID); err != nil {
		return sr, fmt.Errorf("record source summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return sr, fmt.Errorf("commit ingest: %w", err)
	}

	if sr.Malformed > 0 {
		logging.WarnWithContext(ix.logger, "malformed reference rows skipped", "ingest_malformed_rows",
			logging.String(logging.FieldPath, spec.Path),
			logging.Int("malformed", sr.Malformed),
			logging.String(logging.FieldErrorHint, "update the reference file from its publisher"),
			logging.String(logging.FieldImpact, "files matching the skipped rows cannot be identified exactly"))
	}
	ix.logger.Info("reference file ingested",
		logging.String(logging.FieldPath, spec.Path),
		logging.String(logging.FieldPlatform, platformID),
		logging.Int("entries", sr.Entries))
	sr.Action = ActionIngested
	return sr, nil
}

func (ix *Index) resolvePlatform(header datfile.Header, path string) string {
	if ix.resolver == nil {
		return ""
	}
	if id, ok := ix.resolver(header.Name, path); ok {
		return id
	}
	return ""
}

func upsertSource(ctx context.Context, tx *sql.Tx, path string, info os.FileInfo, checksum, runID string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var id int64
	err := tx.QueryRowContext(ctx, `INSERT INTO source_files
        (path, mod_time, size, content_checksum, active, run_id, ingested_at)
        VALUES (?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            mod_time = excluded.mod_time,
            size = excluded.size,
            content_checksum = excluded.content_checksum,
            active = 1,
            run_id = excluded.run_id,
            ingested_at = excluded.ingested_at
        RETURNING id`,
		path, info.ModTime().UnixNano(), info.Size(), checksum, runID, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record source %s: %w", path, err)
	}
	return id, nil
}

// purgeSource deactivates a source and hard-deletes its entries.
func purgeSource(ctx context.Context, conn *sql.Conn, id int64) error {
	return retryOnBusy(ctx, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin purge tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, `DELETE FROM reference_entries WHERE source_id = ?`, id); err != nil {
			return fmt.Errorf("purge entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE source_files SET active = 0, entry_count = 0 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deactivate source: %w", err)
		}
		return tx.Commit()
	})
}

func loadSources(ctx context.Context, conn *sql.Conn) (map[string]*SourceFile, error) {
	rows, err := conn.QueryContext(ctx, `SELECT `+sourceColumns+` FROM source_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*SourceFile)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out[s.Path] = &s
	}
	return out, rows.Err()
}

func totalChanges(ctx context.Context, conn *sql.Conn) (int64, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n); err != nil {
		return 0, fmt.Errorf("total changes: %w", err)
	}
	return n, nil
}
