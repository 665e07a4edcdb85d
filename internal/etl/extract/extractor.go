// Package extract builds and issues the single source query of one
// mapping run. Extraction is the only stage with a transient retry:
// it has no side effects to undo.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// SourceUnavailableError marks a connection or query failure against
// the source store after retries were exhausted.
type SourceUnavailableError struct {
	Mapping string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable for mapping %s: %v", e.Mapping, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

type Extractor struct {
	source      store.SourceReader
	maxRetries  uint64
	maxInterval time.Duration
}

func New(source store.SourceReader) *Extractor {
	return &Extractor{source: source, maxRetries: 3, maxInterval: 10 * time.Second}
}

// WithRetry overrides the bounded retry budget.
func (e *Extractor) WithRetry(maxRetries uint64, maxInterval time.Duration) *Extractor {
	e.maxRetries = maxRetries
	if maxInterval > 0 {
		e.maxInterval = maxInterval
	}
	return e
}

// Extract issues a fresh query for the mapping and returns a streaming
// row set. The extractor holds no cursor state across calls.
func (e *Extractor) Extract(ctx context.Context, mapping domain.TableMapping, columns []domain.ColumnMapping) (store.RowSet, error) {
	if e == nil || e.source == nil {
		return nil, fmt.Errorf("extractor not initialized")
	}
	query, args, err := BuildQuery(mapping, columns)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = e.maxInterval

	var rows store.RowSet
	operation := func() error {
		var opErr error
		rows, opErr = e.source.QueryRows(ctx, query, args...)
		return opErr
	}
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx))
	if err != nil {
		return nil, &SourceUnavailableError{Mapping: mapping.Code, Err: err}
	}
	return rows, nil
}

// BuildQuery composes the source query: a projection over every raw
// source column the mapping needs, the mapping's filter, and for
// incremental loads the watermark predicate.
func BuildQuery(mapping domain.TableMapping, columns []domain.ColumnMapping) (string, []any, error) {
	projection := SourceColumns(columns)
	if len(projection) == 0 {
		return "", nil, fmt.Errorf("mapping %s: no source columns to extract", mapping.Code)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(projection, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(mapping.SourceRef())

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 1)
	if filter := strings.TrimSpace(mapping.SourceFilter); filter != "" {
		conditions = append(conditions, "("+filter+")")
	}
	if mapping.LoadStrategy == domain.LoadIncremental && strings.TrimSpace(mapping.WatermarkValue) != "" {
		args = append(args, mapping.WatermarkValue)
		conditions = append(conditions, fmt.Sprintf("%s > $%d", mapping.WatermarkColumn, len(args)))
	}
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	return sb.String(), args, nil
}

// SourceColumns returns the distinct raw source columns the mapping
// reads, in declaration order: the source column of DIRECT and LOOKUP
// columns, and every placeholder an EXPRESSION references. CONSTANT
// columns read nothing.
func SourceColumns(columns []domain.ColumnMapping) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(columns))
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, column := range columns {
		switch column.Kind {
		case domain.TransformDirect, domain.TransformLookup:
			add(column.SourceColumn)
		case domain.TransformExpression:
			for _, name := range domain.ExpressionPlaceholders(column.Expression) {
				add(name)
			}
		case domain.TransformConstant:
			// no source read
		}
	}
	return out
}
