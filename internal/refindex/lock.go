package refindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"

	"romid/internal/faults"
	"romid/internal/logging"
)

const (
	defaultLockPoll = 250 * time.Millisecond
	// An unreadable lock younger than this is assumed to be mid-write.
	lockWriteGrace = 2 * time.Second
)

// LockRecord is the JSON content of an index lock file.
type LockRecord struct {
	PID          int       `json:"pid"`
	ProcessStart int64     `json:"process_start"`
	Host         string    `json:"host"`
	CreatedAt    time.Time `json:"created_at"`
	IndexPath    string    `json:"index_path"`
}

// LockOptions controls lock acquisition.
type LockOptions struct {
	// Wait is how long to poll a live lock before failing. Zero fails fast.
	Wait         time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Lock is a held index lock. Release is idempotent.
type Lock struct {
	path   string
	record LockRecord
	once   sync.Once
	err    error
}

// LockPath returns the lock file location for an index.
func LockPath(indexPath string) string {
	return indexPath + ".lock"
}

// AcquireLock creates the lock file for indexPath. A lock left by a dead
// process, or by a process whose start time no longer matches, is reclaimed
// with a warning. A live holder yields a LockContentionError.
func AcquireLock(ctx context.Context, indexPath string, opts LockOptions) (*Lock, error) {
	logger := logging.NewComponentLogger(opts.Logger, "indexlock")
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultLockPoll
	}
	record, err := currentRecord(indexPath)
	if err != nil {
		return nil, err
	}
	path := LockPath(indexPath)
	deadline := time.Now().Add(opts.Wait)

	for {
		created, err := createLockFile(path, record)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Debug("index lock acquired", logging.String(logging.FieldPath, path))
			return &Lock{path: path, record: record}, nil
		}

		holder, raw, stale, err := inspectLock(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if stale {
			reclaimed, err := reclaim(ctx, path, raw)
			if err != nil {
				return nil, err
			}
			if reclaimed {
				logging.WarnWithContext(logger, "reclaimed stale index lock", "index_lock_reclaimed",
					logging.String(logging.FieldPath, path),
					logging.Int("holder_pid", holder.PID),
					logging.String("holder_host", holder.Host),
					logging.String(logging.FieldErrorHint, "a previous run exited without releasing the lock"),
					logging.String(logging.FieldImpact, "the previous run's uncommitted work was discarded"))
			}
			continue
		}

		if opts.Wait <= 0 || time.Now().After(deadline) {
			return nil, &faults.LockContentionError{HolderPID: holder.PID, HolderHost: holder.Host, LockPath: path}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Record returns the lease held by this lock.
func (l *Lock) Record() LockRecord {
	return l.record
}

// Release removes the lock file if it still belongs to this process.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		current, err := ReadLock(l.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				l.err = fmt.Errorf("read index lock: %w", err)
			}
			return
		}
		if current.PID != l.record.PID || current.ProcessStart != l.record.ProcessStart || current.Host != l.record.Host {
			l.err = fmt.Errorf("index lock %s now held by pid %d", l.path, current.PID)
			return
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = fmt.Errorf("remove index lock: %w", err)
		}
	})
	return l.err
}

// ReadLock parses the lock file at path.
func ReadLock(path string) (LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockRecord{}, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LockRecord{}, fmt.Errorf("parse index lock %s: %w", path, err)
	}
	return rec, nil
}

func currentRecord(indexPath string) (LockRecord, error) {
	host, err := os.Hostname()
	if err != nil {
		return LockRecord{}, fmt.Errorf("resolve hostname: %w", err)
	}
	pid := os.Getpid()
	start, err := processStartTime(pid)
	if err != nil {
		return LockRecord{}, fmt.Errorf("resolve process start time: %w", err)
	}
	return LockRecord{
		PID:          pid,
		ProcessStart: start,
		Host:         host,
		CreatedAt:    time.Now().UTC(),
		IndexPath:    indexPath,
	}, nil
}

// createLockFile reports false when the lock already exists.
func createLockFile(path string, rec LockRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode index lock: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create index lock: %w", err)
	}
	_, writeErr := file.Write(data)
	syncErr := file.Sync()
	closeErr := file.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("write index lock: %w", err)
	}
	return true, nil
}

// inspectLock returns the holder, the raw file content and whether the holder
// is gone.
func inspectLock(path string) (LockRecord, []byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LockRecord{}, nil, false, err
	}
	var rec LockRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.PID <= 0 {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return LockRecord{}, nil, false, statErr
		}
		return rec, raw, time.Since(info.ModTime()) > lockWriteGrace, nil
	}

	host, _ := os.Hostname()
	if rec.Host != "" && host != "" && rec.Host != host {
		// Liveness of a remote holder cannot be verified.
		return rec, raw, false, nil
	}
	return rec, raw, holderGone(rec), nil
}

func holderGone(rec LockRecord) bool {
	if !processAlive(rec.PID) {
		return true
	}
	start, err := processStartTime(rec.PID)
	if err != nil {
		return false
	}
	return start != rec.ProcessStart
}

// reclaim removes a stale lock under a guard so that two reclaimers cannot
// both delete a lock one of them has just recreated.
func reclaim(ctx context.Context, path string, observed []byte) (bool, error) {
	guard := flock.New(path + ".guard")
	locked, err := guard.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("lock reclaim guard: %w", err)
	}
	if !locked {
		return false, nil
	}
	defer func() { _ = guard.Unlock() }()

	current, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(current, observed) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale index lock: %w", err)
	}
	return true, nil
}

func processStartTime(pid int) (int64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	return proc.CreateTime()
}
