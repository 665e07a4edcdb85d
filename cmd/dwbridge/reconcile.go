package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aarelaponin/dwbridge/internal/platform/env"
	"github.com/aarelaponin/dwbridge/internal/reconcile"
	repopg "github.com/aarelaponin/dwbridge/internal/repo/postgres"
)

func newReconcileCommand(logger *slog.Logger) *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "reconcile <checks.yaml>",
		Short: "Run reconciliation checks against the stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reconcile document: %w", err)
			}
			doc, err := reconcile.Parse(data)
			if err != nil {
				return err
			}
			defaultTolerance, err := env.Float("DWBRIDGE_RECONCILE_TOLERANCE", 0)
			if err != nil {
				return err
			}
			for i := range doc.RowCounts {
				if doc.RowCounts[i].Tolerance == 0 {
					doc.RowCounts[i].Tolerance = defaultTolerance
				}
			}

			dbs, err := openStores(ctx, true)
			if err != nil {
				return err
			}
			defer dbs.Close()

			if batchID == "" {
				batchID = uuid.NewString()
			}
			checker := reconcile.NewChecker(
				repopg.NewCatalogStore(dbs.meta),
				dbs.sourceClient(),
				dbs.targetClient(),
				repopg.NewFindingStore(dbs.meta),
				logger,
			)
			rep, err := checker.Run(ctx, batchID, doc)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rep.Summary())
			if !rep.Passed() {
				return fmt.Errorf("reconciliation failed for system %s", doc.System)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch id to record findings under (default: new id)")
	return cmd
}
