package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// PatternBytes returns size bytes of a repeating sequence starting at seed.
// Different seeds give different digests for the same size.
func PatternBytes(size int, seed byte) []byte {
	if size <= 0 {
		size = 1
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

// WritePattern writes PatternBytes(size, seed) to path and returns the path.
func WritePattern(t testing.TB, path string, size int, seed byte) string {
	t.Helper()
	return WriteBytes(t, path, PatternBytes(size, seed))
}

// WriteBytes writes data to path, creating parent directories.
func WriteBytes(t testing.TB, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
