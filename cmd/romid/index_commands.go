package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"romid/internal/engine"
	"romid/internal/refindex"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect the reference index",
	}

	indexCmd.AddCommand(newIndexRebuildCommand(ctx))
	indexCmd.AddCommand(newIndexCoverageCommand(ctx))
	indexCmd.AddCommand(newIndexCheckCommand(ctx))
	indexCmd.AddCommand(newIndexLookupCommand(ctx))
	indexCmd.AddCommand(newIndexSourcesCommand(ctx))

	return indexCmd
}

func newIndexRebuildCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "rebuild [pattern]...",
		Short: "Ingest reference DAT files into the index",
		Long: `Ingest every reference file matched by the given glob patterns, or by
index.sources from the configuration when none are given. Unchanged files are
skipped unless --force is set; recorded files that are no longer matched are
purged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				report, err := eng.RebuildIndex(cmd.Context(), args, force, progressPrinter(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, report)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderIngestReport(report, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reingest sources whose content is unchanged")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the ingest report as JSON")
	return cmd
}

func renderIngestReport(report refindex.IngestReport, colorize bool) string {
	columns := []column{
		{Header: "SOURCE", MaxWidth: 60},
		{Header: "ACTION"},
		{Header: "PLATFORM"},
		{Header: "ENTRIES", Align: alignRight},
		{Header: "MALFORMED", Align: alignRight},
		{Header: "NOTE", MaxWidth: 50},
	}
	rows := make([][]string, 0, len(report.Sources))
	for _, src := range report.Sources {
		note := src.Error
		if note == "" && len(src.Problems) > 0 {
			note = fmt.Sprintf("%s (+%d more)", src.Problems[0], len(src.Problems)-1)
			if len(src.Problems) == 1 {
				note = src.Problems[0]
			}
		}
		rows = append(rows, []string{
			src.Path,
			src.Action,
			src.PlatformID,
			strconv.Itoa(src.Entries),
			strconv.Itoa(src.Malformed),
			note,
		})
	}

	kind := statusOK
	if report.Failed > 0 || report.Malformed > 0 {
		kind = statusWarn
	}
	summary := fmt.Sprintf("%d ingested, %d skipped, %d purged, %d failed; %d entries in %s",
		report.Ingested, report.Skipped, report.Purged, report.Failed, report.Entries, report.Duration.Round(time.Millisecond))

	var b strings.Builder
	if len(rows) > 0 {
		b.WriteString(renderTable(columns, rows))
		b.WriteString("\n")
	}
	b.WriteString(renderStatusLine("Rebuild", kind, summary, colorize))
	return b.String()
}

func newIndexCoverageCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report reference coverage per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				stats, err := eng.CoverageReport(cmd.Context(), nil)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, stats)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderCoverage(stats))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit coverage as JSON")
	return cmd
}

func renderCoverage(stats refindex.CoverageStats) string {
	columns := []column{
		{Header: "PLATFORM"},
		{Header: "ENTRIES", Align: alignRight},
		{Header: "STRONG", Align: alignRight},
		{Header: "CHECKSUM ONLY", Align: alignRight},
		{Header: "BAD DUMPS", Align: alignRight},
		{Header: "SOURCES", Align: alignRight},
		{Header: "STRONG %", Align: alignRight},
	}
	rows := make([][]string, 0, len(stats.Platforms))
	for _, p := range stats.Platforms {
		rows = append(rows, []string{
			p.PlatformID,
			strconv.Itoa(p.Entries),
			strconv.Itoa(p.Strong),
			strconv.Itoa(p.ChecksumOnly),
			strconv.Itoa(p.BadDumps),
			strconv.Itoa(p.Sources),
			strconv.FormatFloat(p.StrongRatio()*100, 'f', 1, 64),
		})
	}
	var b strings.Builder
	if len(rows) > 0 {
		b.WriteString(renderTable(columns, rows))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%d entries, %d active sources, %d inactive sources",
		stats.Entries, stats.ActiveSources, stats.InactiveSources)
	return b.String()
}

func newIndexCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify index integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				health, checkErr := eng.CheckIndex(cmd.Context())
				if jsonOutput {
					if err := writeJSON(cmd, health); err != nil {
						return err
					}
					return checkErr
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderSectionHeader("Reference index", colorize))
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, health.Path, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, strconv.Itoa(health.SchemaVersion), colorize))
				integrity := statusOK
				detail := "ok"
				if !health.IntegrityOK {
					integrity, detail = statusError, health.Detail
				}
				fmt.Fprintln(out, renderStatusLine("Integrity", integrity, detail, colorize))
				orphans := statusOK
				if health.Orphans > 0 {
					orphans = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Orphaned entries", orphans, strconv.Itoa(health.Orphans), colorize))
				fmt.Fprintln(out, renderStatusLine("Entries", statusInfo, strconv.Itoa(health.Entries), colorize))
				fmt.Fprintln(out, renderStatusLine("Sources", statusInfo, strconv.Itoa(health.Sources), colorize))
				if checkErr == nil {
					fmt.Fprintln(out, "Index healthy")
				}
				return checkErr
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the health report as JSON")
	return cmd
}

func newIndexLookupCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "lookup <digest>",
		Short: "List reference entries carrying a digest",
		Long:  "The algorithm is inferred from the digest length: crc32 (8), md5 (32), sha1 (40) or sha256 (64 hex digits).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				entries, err := eng.Lookup(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					if entries == nil {
						entries = []refindex.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintf(out, "No reference entries for %s\n", args[0])
					return nil
				}
				fmt.Fprintln(out, renderEntries(entries))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit entries as JSON")
	return cmd
}

func renderEntries(entries []refindex.Entry) string {
	columns := []column{
		{Header: "PLATFORM"},
		{Header: "SET", MaxWidth: 40},
		{Header: "ITEM", MaxWidth: 40},
		{Header: "SIZE", Align: alignRight},
		{Header: "CRC32"},
		{Header: "SHA1"},
		{Header: "FLAGS"},
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.PlatformID,
			e.SetName,
			e.ItemName,
			strconv.FormatInt(e.Size, 10),
			e.CRC32,
			e.SHA1,
			e.Flags,
		})
	}
	return renderTable(columns, rows)
}

func newIndexSourcesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List recorded reference files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				sources, err := eng.Sources(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					if sources == nil {
						sources = []refindex.SourceFile{}
					}
					return writeJSON(cmd, sources)
				}
				columns := []column{
					{Header: "PATH", MaxWidth: 60},
					{Header: "ACTIVE"},
					{Header: "DIALECT"},
					{Header: "PLATFORM"},
					{Header: "ENTRIES", Align: alignRight},
					{Header: "INGESTED"},
				}
				rows := make([][]string, 0, len(sources))
				for _, src := range sources {
					rows = append(rows, []string{
						src.Path,
						yesNo(src.Active),
						src.Dialect,
						src.PlatformID,
						strconv.Itoa(src.EntryCount),
						src.IngestedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(columns, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit sources as JSON")
	return cmd
}
