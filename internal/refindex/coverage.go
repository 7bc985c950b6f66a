package refindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"romid/internal/faults"
)

// PlatformCoverage summarises reference data for one platform.
type PlatformCoverage struct {
	PlatformID   string `json:"platform_id"`
	Entries      int    `json:"entries"`
	Strong       int    `json:"strong"`
	ChecksumOnly int    `json:"checksum_only"`
	BadDumps     int    `json:"bad_dumps"`
	Sources      int    `json:"sources"`
}

// StrongRatio is the share of entries carrying a strong digest.
func (p PlatformCoverage) StrongRatio() float64 {
	if p.Entries == 0 {
		return 0
	}
	return float64(p.Strong) / float64(p.Entries)
}

// CoverageStats summarises the whole index.
type CoverageStats struct {
	Platforms       []PlatformCoverage `json:"platforms"`
	Entries         int                `json:"entries"`
	ActiveSources   int                `json:"active_sources"`
	InactiveSources int                `json:"inactive_sources"`
}

// Coverage reports per-platform entry counts and source activity.
func (ix *Index) Coverage(ctx context.Context) (CoverageStats, error) {
	var stats CoverageStats
	rows, err := ix.reader.QueryContext(ctx, `SELECT e.platform_id,
            COUNT(*),
            SUM(CASE WHEN e.sha1 IS NOT NULL OR e.sha256 IS NOT NULL THEN 1 ELSE 0 END),
            SUM(CASE WHEN e.flags = 'baddump' THEN 1 ELSE 0 END),
            COUNT(DISTINCT e.source_id)
        FROM reference_entries e
        JOIN source_files s ON s.id = e.source_id AND s.active = 1
        GROUP BY e.platform_id
        ORDER BY e.platform_id`)
	if err != nil {
		return stats, faults.Wrap(faults.ErrIndexCorruption, "refindex", "coverage", "query entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PlatformCoverage
		if err := rows.Scan(&p.PlatformID, &p.Entries, &p.Strong, &p.BadDumps, &p.Sources); err != nil {
			return stats, fmt.Errorf("scan coverage: %w", err)
		}
		p.ChecksumOnly = p.Entries - p.Strong
		stats.Entries += p.Entries
		stats.Platforms = append(stats.Platforms, p)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate coverage: %w", err)
	}

	err = ix.reader.QueryRowContext(ctx, `SELECT
            COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END), 0)
        FROM source_files`).Scan(&stats.ActiveSources, &stats.InactiveSources)
	if err != nil {
		return stats, fmt.Errorf("count sources: %w", err)
	}
	return stats, nil
}

// Health reports the result of an index integrity check.
type Health struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	IntegrityOK   bool   `json:"integrity_ok"`
	Detail        string `json:"detail,omitempty"`
	Orphans       int    `json:"orphans"`
	Entries       int    `json:"entries"`
	Sources       int    `json:"sources"`
}

// Check runs SQLite's integrity check and verifies that no entry belongs to
// an inactive or missing source. Any failure is ErrIndexCorruption.
func (ix *Index) Check(ctx context.Context) (Health, error) {
	health := Health{Path: ix.path}

	if err := ix.reader.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "read schema version", err)
	}

	rows, err := ix.reader.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "integrity check", err)
	}
	var details []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "integrity check", err)
		}
		details = append(details, line)
	}
	rows.Close()
	health.IntegrityOK = len(details) == 1 && strings.EqualFold(details[0], "ok")
	if !health.IntegrityOK {
		health.Detail = strings.Join(details, "; ")
	}

	err = ix.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_entries e
        LEFT JOIN source_files s ON s.id = e.source_id
        WHERE s.id IS NULL OR s.active = 0`).Scan(&health.Orphans)
	if err != nil {
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "count orphans", err)
	}
	if err := ix.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_entries`).Scan(&health.Entries); err != nil {
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "count entries", err)
	}
	if err := ix.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_files`).Scan(&health.Sources); err != nil {
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", "count sources", err)
	}

	switch {
	case health.SchemaVersion != SchemaVersion:
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check",
			fmt.Sprintf("schema version %d, expected %d", health.SchemaVersion, SchemaVersion), nil)
	case !health.IntegrityOK:
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check", health.Detail, nil)
	case health.Orphans > 0:
		return health, faults.Wrap(faults.ErrIndexCorruption, "refindex", "check",
			fmt.Sprintf("%d entries reference inactive sources", health.Orphans), nil)
	}
	return health, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
