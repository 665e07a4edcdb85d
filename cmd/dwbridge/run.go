package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/etl"
	"github.com/aarelaponin/dwbridge/internal/etl/load"
	"github.com/aarelaponin/dwbridge/internal/platform/objectstore"
	"github.com/aarelaponin/dwbridge/internal/reconcile"
	"github.com/aarelaponin/dwbridge/internal/report"
	repopg "github.com/aarelaponin/dwbridge/internal/repo/postgres"
)

func nowUTC() time.Time { return time.Now().UTC() }

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var (
		system          string
		mappingCode     string
		dryRun          bool
		batchSize       int
		continueOnError bool
		parallel        int
		reconcileFile   string
		archive         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for a source system or a single mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			if system == "" && mappingCode == "" {
				return fmt.Errorf("either --system or --mapping is required")
			}
			ctx := cmd.Context()

			dbs, err := openStores(ctx, true)
			if err != nil {
				return err
			}
			defer dbs.Close()

			catalogStore := repopg.NewCatalogStore(dbs.meta)
			executionStore := repopg.NewExecutionStore(dbs.meta)
			findingStore := repopg.NewFindingStore(dbs.meta)

			runner := etl.NewRunner(
				catalogStore,
				executionStore,
				executionStore,
				dbs.sourceClient(),
				dbs.targetClient(),
				logger,
				etl.Options{
					DryRun:          dryRun,
					BatchSize:       batchSize,
					ContinueOnError: continueOnError,
					Parallel:        parallel,
				},
			)

			var summary domain.BatchSummary
			if mappingCode != "" {
				mapping, err := catalogStore.GetMapping(ctx, mappingCode)
				if err != nil {
					return fmt.Errorf("mapping %s: %w", mappingCode, err)
				}
				summary = domain.BatchSummary{BatchID: uuid.NewString(), StartedAt: nowUTC()}
				record, _ := runner.RunMapping(ctx, summary.BatchID, mapping)
				summary.Records = append(summary.Records, record)
				summary.Attempted = 1
				switch record.Status {
				case domain.RunSuccess:
					summary.Succeeded = 1
					summary.RowsLoaded = record.Loaded
				default:
					summary.Failed = 1
				}
				summary.EndedAt = nowUTC()
			} else {
				summary, err = runner.RunSystem(ctx, system)
				if err != nil {
					return err
				}
			}

			var checkReport *reconcile.Report
			if reconcileFile != "" && !dryRun {
				data, err := os.ReadFile(reconcileFile)
				if err != nil {
					return fmt.Errorf("read reconcile document: %w", err)
				}
				doc, err := reconcile.Parse(data)
				if err != nil {
					return err
				}
				checker := reconcile.NewChecker(catalogStore, dbs.sourceClient(), dbs.targetClient(), findingStore, logger)
				rep, err := checker.Run(ctx, summary.BatchID, doc)
				if err != nil {
					return err
				}
				checkReport = &rep
				fmt.Fprint(cmd.OutOrStdout(), rep.Summary())
			}

			if archive {
				if err := archiveReport(ctx, logger, summary, checkReport); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"batch %s: attempted=%d succeeded=%d failed=%d skipped=%d rows_loaded=%d\n",
				summary.BatchID, summary.Attempted, summary.Succeeded, summary.Failed,
				summary.Skipped, summary.RowsLoaded)

			if !summary.Passed() {
				return fmt.Errorf("batch %s: %d mapping(s) failed", summary.BatchID, summary.Failed)
			}
			if checkReport != nil && !checkReport.Passed() {
				return fmt.Errorf("batch %s: reconciliation failed", summary.BatchID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "source system code to run")
	cmd.Flags().StringVar(&mappingCode, "mapping", "", "single mapping code to run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract, transform and validate without loading")
	cmd.Flags().IntVar(&batchSize, "batch-size", load.DefaultBatchSize, "staging insert batch size")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep running later levels after a mapping fails")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "max mappings of one dependency level to run concurrently")
	cmd.Flags().StringVar(&reconcileFile, "reconcile", "", "reconciliation check document to run after loading")
	cmd.Flags().BoolVar(&archive, "archive", false, "archive the run report in the object store")
	return cmd
}

func archiveReport(ctx context.Context, logger *slog.Logger, summary domain.BatchSummary, checks *reconcile.Report) error {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	client, err := objectstore.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return err
	}
	archiver := report.NewArchiver(client, cfg.Bucket, logger)
	_, err = archiver.Archive(ctx, report.Build(summary, checks))
	return err
}
