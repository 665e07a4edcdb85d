package sqlstore

import (
	"fmt"
	"strings"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// buildMergeSQL renders one staging-to-canonical merge statement.
//
// INSERT relies on the target's key constraint to surface collisions;
// UPDATE touches only rows whose key already exists; UPSERT uses
// INSERT ... ON CONFLICT DO UPDATE, which both postgres and sqlite accept.
func buildMergeSQL(spec store.MergeSpec) (string, error) {
	if err := validIdent(spec.Staging); err != nil {
		return "", err
	}
	if err := validIdent(spec.Target); err != nil {
		return "", err
	}
	if len(spec.Columns) == 0 {
		return "", fmt.Errorf("merge into %s: columns are required", spec.Target)
	}
	for _, column := range append(append([]string{}, spec.Columns...), spec.KeyColumns...) {
		if err := validIdent(column); err != nil {
			return "", err
		}
	}
	columnList := strings.Join(spec.Columns, ", ")

	switch spec.Strategy {
	case domain.MergeInsert:
		return fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			spec.Target, columnList, columnList, spec.Staging,
		), nil

	case domain.MergeUpdate:
		if len(spec.KeyColumns) == 0 {
			return "", fmt.Errorf("merge into %s: UPDATE requires key columns", spec.Target)
		}
		assignments := assignmentList(spec.Columns, spec.KeyColumns, "s")
		if len(assignments) == 0 {
			return "", fmt.Errorf("merge into %s: no non-key columns to update", spec.Target)
		}
		conditions := make([]string, 0, len(spec.KeyColumns))
		for _, key := range spec.KeyColumns {
			conditions = append(conditions, fmt.Sprintf("%s.%s = s.%s", spec.Target, key, key))
		}
		return fmt.Sprintf(
			"UPDATE %s SET %s FROM %s s WHERE %s",
			spec.Target,
			strings.Join(assignments, ", "),
			spec.Staging,
			strings.Join(conditions, " AND "),
		), nil

	case domain.MergeUpsert:
		if len(spec.KeyColumns) == 0 {
			return "", fmt.Errorf("merge into %s: UPSERT requires key columns", spec.Target)
		}
		assignments := assignmentExcluded(spec.Columns, spec.KeyColumns)
		conflict := strings.Join(spec.KeyColumns, ", ")
		if len(assignments) == 0 {
			// Every column is a key; conflicting rows are already equal.
			return fmt.Sprintf(
				"INSERT INTO %s (%s) SELECT %s FROM %s WHERE TRUE ON CONFLICT (%s) DO NOTHING",
				spec.Target, columnList, columnList, spec.Staging, conflict,
			), nil
		}
		return fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s WHERE TRUE ON CONFLICT (%s) DO UPDATE SET %s",
			spec.Target, columnList, columnList, spec.Staging, conflict,
			strings.Join(assignments, ", "),
		), nil

	default:
		return "", fmt.Errorf("merge into %s: merge strategy is invalid", spec.Target)
	}
}

func assignmentList(columns, keys []string, alias string) []string {
	keySet := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		if _, ok := keySet[column]; ok {
			continue
		}
		out = append(out, fmt.Sprintf("%s = %s.%s", column, alias, column))
	}
	return out
}

func assignmentExcluded(columns, keys []string) []string {
	keySet := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		if _, ok := keySet[column]; ok {
			continue
		}
		out = append(out, fmt.Sprintf("%s = excluded.%s", column, column))
	}
	return out
}
