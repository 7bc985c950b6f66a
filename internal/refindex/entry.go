package refindex

import (
	"database/sql"
	"time"

	"romid/internal/digest"
)

// Entry is one reference row. Entries are replaced wholesale when their
// source file changes.
type Entry struct {
	SourceID   int64  `json:"source_id"`
	PlatformID string `json:"platform_id"`
	ItemName   string `json:"item_name"`
	SetName    string `json:"set_name"`
	CRC32      string `json:"crc32,omitempty"`
	MD5        string `json:"md5,omitempty"`
	SHA1       string `json:"sha1,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
	Size       int64  `json:"size"`
	Flags      string `json:"flags,omitempty"`
}

// Digests returns the entry's digests as a set.
func (e Entry) Digests() digest.Set {
	return digest.Set{CRC32: e.CRC32, MD5: e.MD5, SHA1: e.SHA1, SHA256: e.SHA256}
}

// HasStrong reports whether the entry carries an authoritative digest.
func (e Entry) HasStrong() bool {
	return e.SHA1 != "" || e.SHA256 != ""
}

// SourceFile tracks one imported reference file.
type SourceFile struct {
	ID              int64     `json:"id"`
	Path            string    `json:"path"`
	ModTime         time.Time `json:"mod_time"`
	Size            int64     `json:"size"`
	ContentChecksum string    `json:"content_checksum"`
	Active          bool      `json:"active"`
	Dialect         string    `json:"dialect,omitempty"`
	HeaderName      string    `json:"header_name,omitempty"`
	PlatformID      string    `json:"platform_id,omitempty"`
	EntryCount      int       `json:"entry_count"`
	MalformedCount  int       `json:"malformed_count"`
	RunID           string    `json:"run_id,omitempty"`
	IngestedAt      time.Time `json:"ingested_at"`
}

const entryColumns = `e.source_id, e.platform_id, e.item_name, e.set_name,
    COALESCE(e.crc32, ''), COALESCE(e.md5, ''), COALESCE(e.sha1, ''), COALESCE(e.sha256, ''),
    e.size, e.flags`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	err := row.Scan(&e.SourceID, &e.PlatformID, &e.ItemName, &e.SetName,
		&e.CRC32, &e.MD5, &e.SHA1, &e.SHA256, &e.Size, &e.Flags)
	return e, err
}

const sourceColumns = `id, path, mod_time, size, content_checksum, active, dialect,
    header_name, platform_id, entry_count, malformed_count, run_id, ingested_at`

func scanSource(row rowScanner) (SourceFile, error) {
	var (
		s          SourceFile
		modTime    int64
		active     int
		ingestedAt string
	)
	err := row.Scan(&s.ID, &s.Path, &modTime, &s.Size, &s.ContentChecksum, &active, &s.Dialect,
		&s.HeaderName, &s.PlatformID, &s.EntryCount, &s.MalformedCount, &s.RunID, &ingestedAt)
	if err != nil {
		return s, err
	}
	s.ModTime = time.Unix(0, modTime).UTC()
	s.Active = active == 1
	if ts, parseErr := time.Parse(time.RFC3339Nano, ingestedAt); parseErr == nil {
		s.IngestedAt = ts
	}
	return s, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
