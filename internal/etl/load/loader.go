// Package load moves accepted rows into the target store: a
// truncate-and-load of the mapping's private staging table followed by
// a merge into the canonical table, both inside one transaction per
// mapping.
package load

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// MergeConflictError marks a failed merge; the load transaction has
// been rolled back and the mapping is failed.
type MergeConflictError struct {
	Mapping string
	Err     error
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict loading mapping %s: %v", e.Mapping, e.Err)
}

func (e *MergeConflictError) Unwrap() error { return e.Err }

// DefaultBatchSize is the insert chunk size; a throughput tunable, not
// a correctness parameter.
const DefaultBatchSize = 500

type Loader struct {
	target    store.TargetClient
	batchSize int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(target store.TargetClient, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		target:    target,
		batchSize: batchSize,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Result reports one completed load.
type Result struct {
	Staged int64
	Merged int64
	// Unmatched counts staged rows an UPDATE merge left untouched
	// because their key does not exist in the canonical table.
	Unmatched int64
}

// Load stages and merges the accepted rows of one mapping. Either all
// of them land in the canonical table or none do.
func (l *Loader) Load(ctx context.Context, mapping domain.TableMapping, columns []domain.ColumnMapping, rows []store.Row) (Result, error) {
	if l == nil || l.target == nil {
		return Result{}, fmt.Errorf("loader not initialized")
	}
	targetColumns := TargetColumns(columns)
	if len(targetColumns) == 0 {
		return Result{}, fmt.Errorf("mapping %s: no target columns", mapping.Code)
	}

	tx, err := l.target.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("mapping %s: %w", mapping.Code, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	staging := mapping.StagingRef()
	if err := tx.Truncate(ctx, staging); err != nil {
		return Result{}, fmt.Errorf("mapping %s: %w", mapping.Code, err)
	}

	var staged int64
	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := make([][]any, 0, end-start)
		for _, row := range rows[start:end] {
			values := make([]any, len(targetColumns))
			for i, column := range targetColumns {
				values[i] = row[column]
			}
			chunk = append(chunk, values)
		}
		inserted, err := tx.BulkInsert(ctx, staging, targetColumns, chunk)
		staged += inserted
		if err != nil {
			return Result{}, fmt.Errorf("mapping %s: %w", mapping.Code, err)
		}
	}

	// Staging tables are mapping-private; the canonical table is a
	// shared resource, so merges into it are serialized.
	unlock := l.lockTable(mapping.TargetRef())
	merged, err := tx.Merge(ctx, store.MergeSpec{
		Staging:    staging,
		Target:     mapping.TargetRef(),
		Columns:    targetColumns,
		KeyColumns: mapping.KeyColumns,
		Strategy:   mapping.MergeStrategy,
	})
	unlock()
	if err != nil {
		return Result{}, &MergeConflictError{Mapping: mapping.Code, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, &MergeConflictError{Mapping: mapping.Code, Err: err}
	}
	committed = true

	result := Result{Staged: staged, Merged: merged}
	if mapping.MergeStrategy == domain.MergeUpdate && merged < staged {
		result.Unmatched = staged - merged
	}
	return result, nil
}

func (l *Loader) lockTable(table string) func() {
	l.mu.Lock()
	lock, ok := l.locks[table]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[table] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// TargetColumns returns the mapping's target columns in declaration
// order.
func TargetColumns(columns []domain.ColumnMapping) []string {
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		name := strings.TrimSpace(column.TargetColumn)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
