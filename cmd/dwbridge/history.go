package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
	repopg "github.com/aarelaponin/dwbridge/internal/repo/postgres"
)

func newHistoryCommand(logger *slog.Logger) *cobra.Command {
	var (
		batchID     string
		mappingCode string
		status      string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			meta, err := openMeta(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()

			store := repopg.NewExecutionStore(meta)
			records, err := store.ListExecutions(ctx, repo.ExecutionFilter{
				BatchID:     batchID,
				MappingCode: mappingCode,
				Status:      domain.NormalizeRunStatus(status),
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tMAPPING\tSTATUS\tEXTRACTED\tACCEPTED\tREJECTED\tLOADED\tERROR")
			for _, record := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					record.StartedAt.Format(time.RFC3339),
					record.MappingCode,
					record.Status,
					record.Extracted,
					record.Accepted,
					record.Rejected,
					record.Loaded,
					record.ErrorDetail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "filter by batch id")
	cmd.Flags().StringVar(&mappingCode, "mapping", "", "filter by mapping code")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (RUNNING, SUCCESS, FAILED, SKIPPED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}
