package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aarelaponin/dwbridge/internal/platform/dbconn"
	repopg "github.com/aarelaponin/dwbridge/internal/repo/postgres"
	"github.com/aarelaponin/dwbridge/internal/store/sqlstore"
)

// Store connection env prefixes. The metadata store falls back to the
// target store so small deployments need only two databases.
const (
	sourcePrefix = "DWBRIDGE_SOURCE_"
	targetPrefix = "DWBRIDGE_TARGET_"
	metaPrefix   = "DWBRIDGE_META_"
)

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "dwbridge",
		Short:         "Metadata-driven ETL between transactional and analytical stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(logger),
		newImportCommand(logger),
		newExportCommand(logger),
		newMappingsCommand(logger),
		newReconcileCommand(logger),
		newHistoryCommand(logger),
	)
	return root
}

// stores bundles the opened database handles of one invocation.
type stores struct {
	source *sql.DB
	target *sql.DB
	meta   *sql.DB
}

func (s *stores) Close() {
	if s.source != nil {
		_ = s.source.Close()
	}
	if s.target != nil {
		_ = s.target.Close()
	}
	if s.meta != nil && s.meta != s.target {
		_ = s.meta.Close()
	}
}

func openMeta(ctx context.Context) (*sql.DB, error) {
	cfg, err := dbconn.ConfigFromEnv(metaPrefix)
	if err != nil {
		cfg, err = dbconn.ConfigFromEnv(targetPrefix)
		if err != nil {
			return nil, fmt.Errorf("metadata store: %w", err)
		}
	}
	db, err := dbconn.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	if err := repopg.Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	return db, nil
}

func openStores(ctx context.Context, needSource bool) (*stores, error) {
	out := &stores{}

	targetCfg, err := dbconn.ConfigFromEnv(targetPrefix)
	if err != nil {
		return nil, fmt.Errorf("target store: %w", err)
	}
	out.target, err = dbconn.Open(ctx, targetCfg)
	if err != nil {
		return nil, fmt.Errorf("target store: %w", err)
	}

	if needSource {
		sourceCfg, err := dbconn.ConfigFromEnv(sourcePrefix)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("source store: %w", err)
		}
		out.source, err = dbconn.Open(ctx, sourceCfg)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("source store: %w", err)
		}
	}

	metaCfg, err := dbconn.ConfigFromEnv(metaPrefix)
	if err != nil {
		out.meta = out.target
	} else {
		out.meta, err = dbconn.Open(ctx, metaCfg)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("metadata store: %w", err)
		}
	}
	if err := repopg.Bootstrap(ctx, out.meta); err != nil {
		out.Close()
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	return out, nil
}

func (s *stores) sourceClient() *sqlstore.Client { return sqlstore.New(s.source) }
func (s *stores) targetClient() *sqlstore.Client { return sqlstore.New(s.target) }
