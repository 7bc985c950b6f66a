package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"romid/internal/engine"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the digest cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show digest cache size and location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				stats := eng.CacheStats()
				if jsonOutput {
					return writeJSON(cmd, stats)
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				out := cmd.OutOrStdout()
				path := stats.Path
				if path == "" {
					path = "(memory only)"
				}
				fmt.Fprintln(out, renderSectionHeader("Digest cache", colorize))
				fmt.Fprintln(out, renderStatusLine("Snapshot", statusInfo, path, colorize))
				fill := statusOK
				if stats.Capacity > 0 && stats.Entries >= stats.Capacity {
					fill = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Entries", fill,
					fmt.Sprintf("%d of %d", stats.Entries, stats.Capacity), colorize))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit cache statistics as JSON")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				before := eng.CacheStats().Entries
				if err := eng.ClearCache(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s cached digests\n", strconv.Itoa(before))
				return nil
			})
		},
	}
}
