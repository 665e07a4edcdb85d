// Package transform turns extracted source rows into target-shaped rows
// by applying each column mapping in declaration order. Transformation
// is a pure function of (row, column mappings, lookup set); the cache
// is owned by the run invocation and passed in explicitly, so a failed
// run re-runs safely from the same source snapshot.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// Evaluator hands a substituted expression body to the relational
// engine. The transformer itself interprets no arithmetic or string
// functions.
type Evaluator interface {
	Eval(ctx context.Context, expr string) (any, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, expr string) (any, error)

func (f EvaluatorFunc) Eval(ctx context.Context, expr string) (any, error) { return f(ctx, expr) }

// EngineEvaluator evaluates expressions through the target store.
func EngineEvaluator(reader store.TargetReader) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, expr string) (any, error) {
		return reader.QueryValue(ctx, "SELECT "+expr)
	})
}

// Cache holds per-run transformation state: lookup tables loaded once
// per mapping run and memoized expression results. Never shared across
// concurrent mapping runs.
type Cache struct {
	lookups map[string]map[string]string
	exprs   map[string]any
}

// NewCache builds the run cache from the mapping's column set. Lookup
// tables are loaded here once, not re-read per row.
func NewCache(columns []domain.ColumnMapping) *Cache {
	cache := &Cache{
		lookups: make(map[string]map[string]string),
		exprs:   make(map[string]any),
	}
	for _, column := range columns {
		if column.Kind == domain.TransformLookup {
			cache.lookups[column.ID] = column.LookupTable()
		}
	}
	return cache
}

// Result is one transformed row plus the soft lookup misses it
// produced. A miss is a violation record, never an error.
type Result struct {
	Row    store.Row
	Misses []domain.Violation
}

// Apply transforms one source row. An error here is a configuration or
// engine failure, not a data-quality problem.
func Apply(ctx context.Context, row store.Row, columns []domain.ColumnMapping, cache *Cache, eval Evaluator) (Result, error) {
	if cache == nil {
		return Result{}, fmt.Errorf("run cache is required")
	}
	out := make(store.Row, len(columns))
	var misses []domain.Violation

	for _, column := range columns {
		switch column.Kind {
		case domain.TransformDirect:
			out[column.TargetColumn] = row[column.SourceColumn]

		case domain.TransformConstant:
			out[column.TargetColumn] = column.DefaultValue

		case domain.TransformLookup:
			raw := row[column.SourceColumn]
			key := ValueKey(raw)
			table := cache.lookups[column.ID]
			mapped, ok := table[key]
			if !ok {
				out[column.TargetColumn] = nil
				misses = append(misses, domain.Violation{
					RuleCode: "UNMAPPED_LOOKUP",
					Kind:     domain.RuleInList,
					Column:   column.TargetColumn,
					Severity: domain.SeverityWarning,
					Message:  fmt.Sprintf("no lookup entry for source value %q", key),
					Value:    key,
				})
				continue
			}
			out[column.TargetColumn] = mapped

		case domain.TransformExpression:
			substituted := domain.SubstitutePlaceholders(column.Expression, func(name string) (string, bool) {
				value, ok := row[name]
				if !ok {
					return "", false
				}
				return SQLLiteral(value), true
			})
			value, ok := cache.exprs[substituted]
			if !ok {
				if eval == nil {
					return Result{}, fmt.Errorf("column %s: expression evaluator is required", column.TargetColumn)
				}
				var err error
				value, err = eval.Eval(ctx, substituted)
				if err != nil {
					return Result{}, fmt.Errorf("column %s: evaluate expression: %w", column.TargetColumn, err)
				}
				cache.exprs[substituted] = value
			}
			out[column.TargetColumn] = value

		default:
			return Result{}, fmt.Errorf("column %s: transformation kind is invalid", column.TargetColumn)
		}
	}
	return Result{Row: out, Misses: misses}, nil
}

// ValueKey renders a value the way lookup entries and rule parameters
// are keyed.
func ValueKey(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// SQLLiteral renders a row value as a literal inside a substituted
// expression or check body.
func SQLLiteral(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		if typed {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return quote(string(typed))
	case string:
		return quote(typed)
	default:
		return quote(fmt.Sprintf("%v", typed))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
