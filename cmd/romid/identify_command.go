package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"romid/internal/engine"
	"romid/internal/identify"
)

var errUnknownItems = errors.New("some items were not identified")

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var workers int
	var verbose bool
	var failUnknown bool

	cmd := &cobra.Command{
		Use:   "identify <path>...",
		Short: "Identify ROM files, disc manifests and archives",
		Long: `Identify each file, or every non-hidden file below each directory.

Archives are identified from their entries. Results are reported in input
order; use --json for the full evidence record.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Hashing.Workers = workers
			}
			paths, err := engine.ExpandInputs(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files found under %s", strings.Join(args, ", "))
			}

			var results []identify.Result
			err = ctx.withEngine(cmd, func(eng *engine.Engine) error {
				var batchErr error
				results, batchErr = eng.IdentifyBatch(cmd.Context(), paths, progressPrinter(cmd.ErrOrStderr()))
				return batchErr
			})
			if len(results) > 0 {
				if jsonOutput {
					if writeErr := writeJSON(cmd, results); writeErr != nil && err == nil {
						err = writeErr
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderResults(results, verbose, shouldColorize(cmd.OutOrStdout())))
				}
			}
			if err != nil {
				return err
			}
			if failUnknown && countUnknown(results) > 0 {
				return errUnknownItems
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit results as JSON")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent identifications (default from config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show candidates, defects and archive entries")
	cmd.Flags().BoolVar(&failUnknown, "fail-unknown", false, "Exit non-zero when any item is unknown")
	return cmd
}

func renderResults(results []identify.Result, verbose, colorize bool) string {
	columns := []column{
		{Header: "PATH", MaxWidth: 60},
		{Header: "PLATFORM"},
		{Header: "CONFIDENCE", Align: alignRight},
		{Header: "EXACT"},
		{Header: "SIGNALS"},
		{Header: "REASON", MaxWidth: 50},
	}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, resultRow(res, ""))
		if verbose {
			for _, entry := range res.Entries {
				rows = append(rows, resultRow(entry, "  "))
			}
		}
	}

	var b strings.Builder
	b.WriteString(renderTable(columns, rows))
	if verbose {
		for _, res := range results {
			writeDetails(&b, res)
			for _, entry := range res.Entries {
				writeDetails(&b, entry)
			}
		}
	}
	b.WriteString("\n")
	b.WriteString(renderSummary(results, colorize))
	return b.String()
}

func resultRow(res identify.Result, indent string) []string {
	platform := res.PlatformID
	if res.Unknown {
		platform = "unknown"
	}
	name := res.Path
	if indent != "" {
		if i := strings.LastIndex(name, "!"); i >= 0 {
			name = name[i+1:]
		}
	} else {
		name = filepath.Base(name)
	}
	return []string{
		indent + name,
		platform,
		strconv.FormatFloat(res.Confidence, 'f', 3, 64),
		yesNo(res.IsExact),
		joinSignals(res.Signals),
		res.Reason,
	}
}

func writeDetails(b *strings.Builder, res identify.Result) {
	if len(res.Candidates) == 0 && len(res.Defects) == 0 && res.Match == nil {
		return
	}
	fmt.Fprintf(b, "\n%s\n", res.Path)
	if res.Match != nil {
		fmt.Fprintf(b, "  match: %s / %s (%s)\n", res.Match.SetName, res.Match.ItemName, res.MatchMethod)
	}
	for _, cand := range res.Candidates {
		fmt.Fprintf(b, "  candidate %-14s %6.3f  %s\n", cand.PlatformID, cand.Score, strings.Join(cand.Evidence, "; "))
	}
	for _, d := range res.Defects {
		line := fmt.Sprintf("  defect %s/%s", d.Validator, d.Code)
		if d.Member != "" {
			line += " " + d.Member
		}
		if d.Detail != "" {
			line += ": " + d.Detail
		}
		b.WriteString(line + "\n")
	}
}

func renderSummary(results []identify.Result, colorize bool) string {
	exact := 0
	for _, res := range results {
		if res.IsExact {
			exact++
		}
	}
	unknown := countUnknown(results)
	identified := len(results) - unknown

	kind := statusOK
	if unknown > 0 {
		kind = statusWarn
	}
	if identified == 0 {
		kind = statusError
	}
	msg := fmt.Sprintf("%d of %d identified, %d exact, %d unknown", identified, len(results), exact, unknown)
	return renderStatusLine("Identified", kind, msg, colorize)
}

func countUnknown(results []identify.Result) int {
	n := 0
	for _, res := range results {
		if res.Unknown {
			n++
		}
	}
	return n
}

func joinSignals(signals []identify.Signal) string {
	parts := make([]string, len(signals))
	for i, s := range signals {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
