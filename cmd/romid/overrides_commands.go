package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"romid/internal/engine"
	"romid/internal/overrides"
)

func newOverridesCommand(ctx *commandContext) *cobra.Command {
	overridesCmd := &cobra.Command{
		Use:   "overrides",
		Short: "Inspect platform override rules",
	}

	overridesCmd.AddCommand(newOverridesListCommand(ctx))
	overridesCmd.AddCommand(newOverridesTestCommand(ctx))

	return overridesCmd
}

func newOverridesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List override rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				rules, err := eng.Overrides()
				if err != nil {
					return err
				}
				if jsonOutput {
					if rules == nil {
						rules = []overrides.Rule{}
					}
					return writeJSON(cmd, rules)
				}
				if len(rules) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No override rules configured")
					return nil
				}
				columns := []column{
					{Header: "#", Align: alignRight},
					{Header: "RULE"},
					{Header: "PLATFORM"},
					{Header: "PATH GLOB", MaxWidth: 40},
					{Header: "NAME REGEX", MaxWidth: 30},
					{Header: "EXT"},
					{Header: "SIZE"},
				}
				rows := make([][]string, 0, len(rules))
				for i, rule := range rules {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						rule.Label(i),
						rule.Platform,
						rule.PathGlob,
						rule.NameRegex,
						rule.Extension,
						sizeRange(rule.MinSize, rule.MaxSize),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(columns, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit rules as JSON")
	return cmd
}

func newOverridesTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <path>",
		Short: "Show which override rule applies to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				rule, index, ok, err := eng.MatchOverride(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintf(out, "No override rule matches %s\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "%s matches %s -> %s\n", args[0], rule.Label(index), rule.Platform)
				return nil
			})
		},
	}
}

func sizeRange(minSize, maxSize *int64) string {
	switch {
	case minSize != nil && maxSize != nil:
		return fmt.Sprintf("%d..%d", *minSize, *maxSize)
	case minSize != nil:
		return fmt.Sprintf(">=%d", *minSize)
	case maxSize != nil:
		return fmt.Sprintf("<=%d", *maxSize)
	}
	return ""
}
