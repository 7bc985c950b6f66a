package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap(ErrIndexCorruption, "refindex", "check", "integrity check failed", cause)
	if !errors.Is(err, ErrIndexCorruption) {
		t.Fatalf("expected marker in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain: %v", err)
	}
	want := "index corruption: refindex: check: integrity check failed: disk gone"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		marker error
		fatal  bool
	}{
		{"hash", &HashIOError{Path: "a.bin", Rotated: true}, ErrHashIO, false},
		{"lock", &LockContentionError{HolderPID: 42, HolderHost: "box"}, ErrLockContention, true},
		{"row", &MalformedEntryError{Source: "x.dat", Line: 3, Reason: "missing size"}, ErrMalformedEntry, false},
		{"archive", &ArchiveParseError{Path: "a.zip", Err: errors.New("bad")}, ErrArchiveParse, false},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.marker) {
			t.Fatalf("%s: expected marker match", tc.name)
		}
		if Fatal(wrapped) != tc.fatal {
			t.Fatalf("%s: Fatal = %v, want %v", tc.name, Fatal(wrapped), tc.fatal)
		}
	}
}

func TestLockContentionRetryLater(t *testing.T) {
	var target *LockContentionError
	err := fmt.Errorf("ingest: %w", &LockContentionError{HolderPID: 7})
	if !errors.As(err, &target) || !target.RetryLater() {
		t.Fatal("expected retry-later lock contention")
	}
}
