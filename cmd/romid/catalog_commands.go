package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"romid/internal/catalog"
	"romid/internal/engine"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the platform catalog",
	}

	catalogCmd.AddCommand(newCatalogShowCommand(ctx))
	catalogCmd.AddCommand(newCatalogValidateCommand(ctx))

	return catalogCmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List catalog platforms and policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(eng *engine.Engine) error {
				cat := eng.Catalog()
				if jsonOutput {
					return writeJSON(cmd, cat.Document())
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderCatalog(cat))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the catalog document as JSON")
	return cmd
}

func renderCatalog(cat *catalog.Catalog) string {
	columns := []column{
		{Header: "ID"},
		{Header: "NAME", MaxWidth: 36},
		{Header: "EXTENSIONS", MaxWidth: 36},
		{Header: "GROUP"},
		{Header: "HEADERS", Align: alignRight},
		{Header: "MANIFESTS"},
		{Header: "MEDIA"},
	}
	platforms := cat.Platforms()
	rows := make([][]string, 0, len(platforms))
	for _, p := range platforms {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			strings.Join(p.Extensions, " "),
			p.ConflictGroup,
			strconv.Itoa(len(p.HeaderSignatures)),
			strings.Join(p.Manifests, " "),
			strings.Join(p.ContainerMedia, " "),
		})
	}

	policy := cat.Policy()
	weights := cat.Weights()
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog: %s (%d platforms)\n", cat.Source(), len(platforms))
	b.WriteString(renderTable(columns, rows))
	fmt.Fprintf(&b, "\nPolicy: min_top_score=%g min_score_delta=%g contradiction_min_score=%g",
		policy.MinTopScore, policy.MinScoreDelta, policy.ContradictionMinScore)
	fmt.Fprintf(&b, "\nWeights: extension=%g folder=%g path=%g negative=%g",
		weights.Extension, weights.Folder, weights.Path, weights.Negative)
	return b.String()
}

func newCatalogValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a catalog document",
		Long:  "Validate the catalog at path, or the configured catalog when no path is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				path = cfg.Catalog.Path
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog valid: %s (%d platforms)\n", cat.Source(), len(cat.Platforms()))
			return nil
		},
	}
}
