package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aarelaponin/dwbridge/internal/catalog"
	"github.com/aarelaponin/dwbridge/internal/repo"
	repopg "github.com/aarelaponin/dwbridge/internal/repo/postgres"
)

func newImportCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Import a mapping catalog document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read catalog document: %w", err)
			}
			meta, err := openMeta(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()

			importer := catalog.NewImporter(repopg.NewCatalogStore(meta), logger)
			summary, err := importer.Import(ctx, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported system %s: %d mappings, %d columns, %d rules\n",
				summary.System, summary.Mappings, summary.Columns, summary.Rules)
			return nil
		},
	}
}

func newExportCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "export <system-code>",
		Short: "Export a system's catalog as a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			meta, err := openMeta(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()

			importer := catalog.NewImporter(repopg.NewCatalogStore(meta), logger)
			data, err := importer.Export(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newMappingsCommand(logger *slog.Logger) *cobra.Command {
	var system string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "List the mappings of a source system",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			meta, err := openMeta(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()

			store := repopg.NewCatalogStore(meta)
			mappings, err := store.ListMappings(ctx, repo.MappingFilter{SystemCode: system, ActiveOnly: activeOnly})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tSOURCE\tTARGET\tLOAD\tMERGE\tWATERMARK\tACTIVE")
			for _, mapping := range mappings {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
					mapping.Code, mapping.SourceRef(), mapping.TargetRef(),
					mapping.LoadStrategy, mapping.MergeStrategy,
					mapping.WatermarkValue, mapping.Active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "source system code")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active mappings")
	_ = cmd.MarkFlagRequired("system")
	return cmd
}
