package refindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"romid/internal/faults"
	"romid/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the current schema version. Bump it when schema.sql
// changes; older databases must be rebuilt.
const SchemaVersion = 1

// DefaultBatchSize is the number of rows inserted between progress reports.
const DefaultBatchSize = 20_000

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// PlatformResolver maps a reference file's header name and path to a
// platform identifier.
type PlatformResolver func(headerName, path string) (string, bool)

// Options configures an Index.
type Options struct {
	BatchSize int
	Resolver  PlatformResolver
	Logger    *slog.Logger
}

// Index is the persistent reference index. A single writer connection
// serialises mutations; lookups use a separate reader pool and never wait on
// the writer under WAL.
type Index struct {
	path      string
	writer    *sql.DB
	reader    *sql.DB
	batchSize int
	resolver  PlatformResolver
	logger    *slog.Logger
}

// Open creates or opens the index database at path and verifies its schema.
// A schema from another version is reported as ErrIndexCorruption.
func Open(ctx context.Context, path string, opts Options) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure index directory: %w", err)
	}

	writer, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	writer.SetMaxOpenConns(1)

	ix := &Index{
		path:      path,
		writer:    writer,
		batchSize: opts.BatchSize,
		resolver:  opts.Resolver,
		logger:    logging.NewComponentLogger(opts.Logger, "refindex"),
	}
	if ix.batchSize <= 0 {
		ix.batchSize = DefaultBatchSize
	}

	if err := ix.initSchema(ctx); err != nil {
		_ = writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	ix.reader = reader
	return ix, nil
}

// Close closes both connection pools.
func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}
	var errs []error
	if ix.reader != nil {
		errs = append(errs, ix.reader.Close())
	}
	if ix.writer != nil {
		errs = append(errs, ix.writer.Close())
	}
	return errors.Join(errs...)
}

// Path returns the database file location.
func (ix *Index) Path() string {
	return ix.path
}

// TotalChanges reports rows modified through the writer connection since it
// was opened.
func (ix *Index) TotalChanges(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.writer.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n); err != nil {
		return 0, fmt.Errorf("total changes: %w", err)
	}
	return n, nil
}

func (ix *Index) initSchema(ctx context.Context) error {
	var tableExists int
	err := retryOnBusy(ctx, func() error {
		return ix.writer.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
		).Scan(&tableExists)
	})
	if err != nil {
		return faults.Wrap(faults.ErrIndexCorruption, "refindex", "open", "read schema", err)
	}

	if tableExists == 0 {
		return ix.createSchema(ctx)
	}

	var version int
	if err := ix.writer.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return faults.Wrap(faults.ErrIndexCorruption, "refindex", "open", "read schema version", err)
	}
	if version != SchemaVersion {
		return faults.Wrap(faults.ErrIndexCorruption, "refindex", "open",
			fmt.Sprintf("index has schema version %d, expected %d (delete %s and run 'romid index rebuild')", version, SchemaVersion, ix.path), nil)
	}
	return nil
}

func (ix *Index) createSchema(ctx context.Context) error {
	tx, err := ix.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
