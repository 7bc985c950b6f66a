package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHashIO          = errors.New("hash io error")
	ErrIndexCorruption = errors.New("index corruption")
	ErrLockContention  = errors.New("lock contention")
	ErrMalformedEntry  = errors.New("malformed reference entry")
	ErrArchiveParse    = errors.New("archive parse error")
	ErrConfiguration   = errors.New("configuration error")
)

// Wrap builds an error message that includes operation context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HashIOError reports a file that could not be read completely, including
// files that changed size or modification time while being hashed.
type HashIOError struct {
	Path    string
	Rotated bool
	Err     error
}

func (e *HashIOError) Error() string {
	if e.Rotated {
		return fmt.Sprintf("hash %s: file changed while reading", e.Path)
	}
	if e.Err == nil {
		return fmt.Sprintf("hash %s: read failed", e.Path)
	}
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashIOError) Unwrap() error { return e.Err }

func (e *HashIOError) Is(target error) bool { return target == ErrHashIO }

// LockContentionError is returned when another live process holds the index
// lock. RetryLater is always true; callers surface it rather than retry.
type LockContentionError struct {
	HolderPID  int
	HolderHost string
	LockPath   string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("index locked by pid %d on %s (%s); retry later", e.HolderPID, e.HolderHost, e.LockPath)
}

func (e *LockContentionError) Is(target error) bool { return target == ErrLockContention }

// RetryLater reports that the operation may succeed once the holder exits.
func (e *LockContentionError) RetryLater() bool { return true }

// MalformedEntryError describes one rejected row of a reference file.
type MalformedEntryError struct {
	Source string
	Line   int
	Item   string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.Item != "" {
		fmt.Fprintf(&b, " (%s)", e.Item)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *MalformedEntryError) Is(target error) bool { return target == ErrMalformedEntry }

// ArchiveParseError reports a container that could not be opened or walked.
type ArchiveParseError struct {
	Path string
	Err  error
}

func (e *ArchiveParseError) Error() string {
	return fmt.Sprintf("open archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveParseError) Unwrap() error { return e.Err }

func (e *ArchiveParseError) Is(target error) bool { return target == ErrArchiveParse }

// Fatal reports whether err must stop the current operation instead of being
// recorded against a single item.
func Fatal(err error) bool {
	return errors.Is(err, ErrIndexCorruption) || errors.Is(err, ErrLockContention)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
