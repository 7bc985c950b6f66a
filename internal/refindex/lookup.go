package refindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"romid/internal/digest"
	"romid/internal/faults"
)

// Match methods.
const (
	MethodSHA1     = "sha1"
	MethodSHA256   = "sha256"
	MethodChecksum = "crc32+size"
)

// Match is the result of a reference lookup. Ambiguous lists one entry per
// platform when the digest is claimed by several platforms; such a match
// must not be treated as exact.
type Match struct {
	Entry     Entry   `json:"entry"`
	Method    string  `json:"method"`
	Ambiguous []Entry `json:"ambiguous,omitempty"`
}

// Strong reports whether the match came from an authoritative digest.
func (m *Match) Strong() bool {
	return m != nil && m.Method != MethodChecksum
}

// Conflicting reports whether several platforms claim the digest.
func (m *Match) Conflicting() bool {
	return m != nil && len(m.Ambiguous) > 1
}

// Lookup finds reference entries for set. Strong digests are consulted first;
// crc32 with size is only consulted against entries that carry no strong
// digest. It returns nil when nothing matches.
func (ix *Index) Lookup(ctx context.Context, set digest.Set, size int64) (*Match, error) {
	if set.SHA1 != "" {
		m, err := ix.lookupBy(ctx, MethodSHA1, `e.sha1 = ?`, set.SHA1)
		if m != nil || err != nil {
			return m, err
		}
	}
	if set.SHA256 != "" {
		m, err := ix.lookupBy(ctx, MethodSHA256, `e.sha256 = ?`, set.SHA256)
		if m != nil || err != nil {
			return m, err
		}
	}
	if set.CRC32 != "" && size >= 0 {
		return ix.lookupBy(ctx, MethodChecksum,
			`e.crc32 = ? AND e.size = ? AND e.sha1 IS NULL AND e.sha256 IS NULL`, set.CRC32, size)
	}
	return nil, nil
}

func (ix *Index) lookupBy(ctx context.Context, method, where string, args ...any) (*Match, error) {
	rows, err := ix.reader.QueryContext(ctx, `SELECT `+entryColumns+`
        FROM reference_entries e
        JOIN source_files s ON s.id = e.source_id AND s.active = 1
        WHERE `+where+`
        ORDER BY e.source_id, e.item_name, e.id`, args...)
	if err != nil {
		return nil, lookupErr(ctx, method, err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, lookupErr(ctx, method, err)
	}
	return buildMatch(method, entries), nil
}

// lookupErr keeps cancellation distinct from index failures.
func lookupErr(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return faults.Wrap(faults.ErrIndexCorruption, "refindex", "lookup", method, err)
}

// buildMatch collapses entries to one per platform.
func buildMatch(method string, entries []Entry) *Match {
	if len(entries) == 0 {
		return nil
	}
	perPlatform := make(map[string]Entry)
	for _, e := range entries {
		if _, seen := perPlatform[e.PlatformID]; !seen {
			perPlatform[e.PlatformID] = e
		}
	}
	m := &Match{Entry: entries[0], Method: method}
	if len(perPlatform) == 1 {
		return m
	}
	for _, e := range perPlatform {
		m.Ambiguous = append(m.Ambiguous, e)
	}
	sort.Slice(m.Ambiguous, func(i, j int) bool {
		return m.Ambiguous[i].PlatformID < m.Ambiguous[j].PlatformID
	})
	return m
}

// Find lists every active entry whose digest equals value. The algorithm is
// inferred from the value's length.
func (ix *Index) Find(ctx context.Context, value string) ([]Entry, error) {
	var column string
	var alg digest.Algorithm
	switch len(value) {
	case 8:
		column, alg = "crc32", digest.CRC32
	case 32:
		column, alg = "md5", digest.MD5
	case 40:
		column, alg = "sha1", digest.SHA1
	case 64:
		column, alg = "sha256", digest.SHA256
	default:
		return nil, fmt.Errorf("digest %q: unrecognised length %d", value, len(value))
	}
	normalized, err := digest.Normalize(alg, value)
	if err != nil {
		return nil, err
	}
	rows, err := ix.reader.QueryContext(ctx, `SELECT `+entryColumns+`
        FROM reference_entries e
        JOIN source_files s ON s.id = e.source_id AND s.active = 1
        WHERE e.`+column+` = ?
        ORDER BY e.platform_id, e.source_id, e.item_name`, normalized)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", column, err)
	}
	return collectEntries(rows)
}

// Sources lists recorded source files ordered by path.
func (ix *Index) Sources(ctx context.Context) ([]SourceFile, error) {
	rows, err := ix.reader.QueryContext(ctx, `SELECT `+sourceColumns+` FROM source_files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []SourceFile
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
