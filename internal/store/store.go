// Package store defines the narrow contract through which the engine
// reaches the transactional and analytical stores. The engine never
// depends on a store-specific SQL dialect beyond the transformation
// expression bodies supplied in configuration.
package store

import (
	"context"

	"github.com/aarelaponin/dwbridge/internal/domain"
)

// Row is one record as a name-to-value mapping; column order travels on
// the owning RowSet.
type Row map[string]any

// RowSet is an ordered, streaming view over a query result. Re-issuing
// the producing query yields a fresh RowSet; no cursor state survives
// a Close.
type RowSet interface {
	Columns() []string
	// Next returns the next row, or ok=false at the end of the set.
	Next() (row Row, ok bool, err error)
	Close() error
}

// SourceReader is the read-only contract against the source store.
type SourceReader interface {
	QueryRows(ctx context.Context, query string, args ...any) (RowSet, error)
	QueryValue(ctx context.Context, query string, args ...any) (any, error)
}

// TargetReader serves REFERENCE/CUSTOM rules and reconciliation reads.
type TargetReader interface {
	QueryRows(ctx context.Context, query string, args ...any) (RowSet, error)
	QueryValue(ctx context.Context, query string, args ...any) (any, error)
}

// TargetClient adds the write half of the target contract. All writes
// for one mapping happen inside a single Tx.
type TargetClient interface {
	TargetReader
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one load transaction: either every accepted row of the mapping
// lands in the canonical table or none does.
type Tx interface {
	Truncate(ctx context.Context, table string) error
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Merge(ctx context.Context, spec MergeSpec) (int64, error)
	Commit() error
	Rollback() error
}

// MergeSpec describes one staging-to-canonical merge.
type MergeSpec struct {
	Staging    string
	Target     string
	Columns    []string
	KeyColumns []string
	Strategy   domain.MergeStrategy
}
