package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

// CatalogStore persists the mapping catalog. Reads run against the DB
// interface; ImportSystem needs transactions and therefore a TxDB.
type CatalogStore struct {
	db  TxDB
	now repo.Clock
}

func NewCatalogStore(db TxDB) *CatalogStore {
	if db == nil {
		return nil
	}
	return &CatalogStore{db: db, now: time.Now}
}

const mappingColumns = `mapping_id, system_id, code, source_schema, source_table, source_filter,
	target_schema, target_table, key_columns, load_strategy, merge_strategy,
	watermark_column, watermark_value, active, created_at, updated_at`

func (s *CatalogStore) GetSystem(ctx context.Context, code string) (domain.SourceSystem, error) {
	if s == nil || s.db == nil {
		return domain.SourceSystem{}, fmt.Errorf("catalog store not initialized")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.SourceSystem{}, fmt.Errorf("system code is required")
	}
	var system domain.SourceSystem
	row := s.db.QueryRowContext(
		ctx,
		`SELECT system_id, code, name, connection_ref, active, created_at
		 FROM source_systems
		 WHERE code = $1`,
		code,
	)
	if err := row.Scan(&system.ID, &system.Code, &system.Name, &system.ConnectionRef, &system.Active, &system.CreatedAt); err != nil {
		return domain.SourceSystem{}, handleNotFound(err)
	}
	return system, nil
}

func (s *CatalogStore) GetMapping(ctx context.Context, code string) (domain.TableMapping, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.TableMapping{}, fmt.Errorf("mapping code is required")
	}
	return s.getMapping(ctx, "code = $1", code)
}

func (s *CatalogStore) GetMappingByID(ctx context.Context, id string) (domain.TableMapping, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.TableMapping{}, fmt.Errorf("mapping id is required")
	}
	return s.getMapping(ctx, "mapping_id = $1", id)
}

func (s *CatalogStore) getMapping(ctx context.Context, where string, arg any) (domain.TableMapping, error) {
	if s == nil || s.db == nil {
		return domain.TableMapping{}, fmt.Errorf("catalog store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mappingColumns+` FROM table_mappings WHERE `+where,
		arg,
	)
	mapping, err := scanMapping(row)
	if err != nil {
		return domain.TableMapping{}, handleNotFound(err)
	}
	return mapping, nil
}

func (s *CatalogStore) ListMappings(ctx context.Context, filter repo.MappingFilter) ([]domain.TableMapping, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if strings.TrimSpace(filter.SystemCode) != "" {
		args = append(args, strings.TrimSpace(filter.SystemCode))
		clauses = append(clauses, fmt.Sprintf("system_id = (SELECT system_id FROM source_systems WHERE code = $%d)", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "active = TRUE")
	}
	query := `SELECT ` + mappingColumns + ` FROM table_mappings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY code"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TableMapping, 0)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, mapping)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (domain.TableMapping, error) {
	var mapping domain.TableMapping
	var keyColumnsJSON []byte
	var loadStrategy, mergeStrategy string
	err := row.Scan(
		&mapping.ID,
		&mapping.SystemID,
		&mapping.Code,
		&mapping.SourceSchema,
		&mapping.SourceTable,
		&mapping.SourceFilter,
		&mapping.TargetSchema,
		&mapping.TargetTable,
		&keyColumnsJSON,
		&loadStrategy,
		&mergeStrategy,
		&mapping.WatermarkColumn,
		&mapping.WatermarkValue,
		&mapping.Active,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err != nil {
		return domain.TableMapping{}, err
	}
	keys, err := decodeStrings(keyColumnsJSON)
	if err != nil {
		return domain.TableMapping{}, fmt.Errorf("decode key columns: %w", err)
	}
	mapping.KeyColumns = keys
	mapping.LoadStrategy = domain.NormalizeLoadStrategy(loadStrategy)
	mapping.MergeStrategy = domain.NormalizeMergeStrategy(mergeStrategy)
	return mapping, nil
}

func (s *CatalogStore) GetColumnMappings(ctx context.Context, mappingID string) ([]domain.ColumnMapping, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	mappingID = strings.TrimSpace(mappingID)
	if mappingID == "" {
		return nil, fmt.Errorf("mapping id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT column_id, mapping_id, position, target_column, source_column, kind,
			expression, default_value, data_type, nullable, is_key
		 FROM column_mappings
		 WHERE mapping_id = $1
		 ORDER BY position`,
		mappingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list column mappings: %w", err)
	}
	defer rows.Close()

	columns := make([]domain.ColumnMapping, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var column domain.ColumnMapping
		var kind string
		if err := rows.Scan(
			&column.ID,
			&column.MappingID,
			&column.Position,
			&column.TargetColumn,
			&column.SourceColumn,
			&kind,
			&column.Expression,
			&column.DefaultValue,
			&column.DataType,
			&column.Nullable,
			&column.IsKey,
		); err != nil {
			return nil, fmt.Errorf("scan column mapping: %w", err)
		}
		column.Kind = domain.NormalizeTransformKind(kind)
		byID[column.ID] = len(columns)
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return columns, nil
	}

	lookupRows, err := s.db.QueryContext(
		ctx,
		`SELECT l.column_id, l.source_value, l.target_value
		 FROM lookup_entries l
		 JOIN column_mappings c ON c.column_id = l.column_id
		 WHERE c.mapping_id = $1
		 ORDER BY l.column_id, l.source_value`,
		mappingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list lookup entries: %w", err)
	}
	defer lookupRows.Close()

	for lookupRows.Next() {
		var columnID string
		var entry domain.LookupEntry
		if err := lookupRows.Scan(&columnID, &entry.SourceValue, &entry.TargetValue); err != nil {
			return nil, fmt.Errorf("scan lookup entry: %w", err)
		}
		if idx, ok := byID[columnID]; ok {
			columns[idx].Lookups = append(columns[idx].Lookups, entry)
		}
	}
	return columns, lookupRows.Err()
}

func (s *CatalogStore) GetRules(ctx context.Context, mappingID string) ([]domain.DataQualityRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	mappingID = strings.TrimSpace(mappingID)
	if mappingID == "" {
		return nil, fmt.Errorf("mapping id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT rule_id, mapping_id, code, kind, target_column, severity, active, params
		 FROM quality_rules
		 WHERE mapping_id = $1
		 ORDER BY code`,
		mappingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DataQualityRule, 0)
	for rows.Next() {
		var rule domain.DataQualityRule
		var kind, severity string
		var paramsJSON []byte
		if err := rows.Scan(&rule.ID, &rule.MappingID, &rule.Code, &kind, &rule.TargetColumn, &severity, &rule.Active, &paramsJSON); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Kind = domain.NormalizeRuleKind(kind)
		rule.Severity = domain.NormalizeSeverity(severity)
		params, err := decodeRuleParams(paramsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode rule params: %w", err)
		}
		rule.Params = params
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *CatalogStore) GetDependencies(ctx context.Context, mappingID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	mappingID = strings.TrimSpace(mappingID)
	if mappingID == "" {
		return nil, fmt.Errorf("mapping id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT depends_on_id FROM mapping_dependencies WHERE mapping_id = $1 ORDER BY depends_on_id`,
		mappingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *CatalogStore) AdvanceWatermark(ctx context.Context, mappingID, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialized")
	}
	mappingID = strings.TrimSpace(mappingID)
	if mappingID == "" {
		return fmt.Errorf("mapping id is required")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE table_mappings SET watermark_value = $1, updated_at = $2 WHERE mapping_id = $3`,
		value,
		s.now().UTC(),
		mappingID,
	)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ruleParamsJSON is the persisted shape of domain.RuleParams.
type ruleParamsJSON struct {
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	RefTable  string   `json:"ref_table,omitempty"`
	RefColumn string   `json:"ref_column,omitempty"`
	Check     string   `json:"check,omitempty"`
	Expect    string   `json:"expect,omitempty"`
}

func encodeRuleParams(params domain.RuleParams) ([]byte, error) {
	return json.Marshal(ruleParamsJSON{
		MinLength: params.MinLength,
		MaxLength: params.MaxLength,
		Pattern:   params.Pattern,
		Min:       params.Min,
		Max:       params.Max,
		Allowed:   params.Allowed,
		RefTable:  params.RefTable,
		RefColumn: params.RefColumn,
		Check:     params.Check,
		Expect:    params.Expect,
	})
}

func decodeRuleParams(raw []byte) (domain.RuleParams, error) {
	if len(raw) == 0 {
		return domain.RuleParams{}, nil
	}
	var decoded ruleParamsJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.RuleParams{}, err
	}
	return domain.RuleParams{
		MinLength: decoded.MinLength,
		MaxLength: decoded.MaxLength,
		Pattern:   decoded.Pattern,
		Min:       decoded.Min,
		Max:       decoded.Max,
		Allowed:   decoded.Allowed,
		RefTable:  decoded.RefTable,
		RefColumn: decoded.RefColumn,
		Check:     decoded.Check,
		Expect:    decoded.Expect,
	}, nil
}

// ImportSystem upserts one source system together with its mappings.
// The whole import runs in one transaction; within it every mapping is
// replaced wholesale (old children deleted, new ones inserted), so a
// failure never leaves a mapping half-updated.
func (s *CatalogStore) ImportSystem(ctx context.Context, system domain.SourceSystem, mappings []repo.ImportedMapping) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialized")
	}
	if err := system.Validate(); err != nil {
		return err
	}
	for _, imported := range mappings {
		if err := imported.Mapping.Validate(); err != nil {
			return err
		}
		for _, column := range imported.Columns {
			if err := column.Validate(); err != nil {
				return fmt.Errorf("mapping %s: %w", imported.Mapping.Code, err)
			}
		}
		for _, rule := range imported.Rules {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("mapping %s: %w", imported.Mapping.Code, err)
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	systemID, err := upsertSystem(ctx, tx, system, now)
	if err != nil {
		return err
	}

	idsByCode := make(map[string]string, len(mappings))
	for _, imported := range mappings {
		mappingID, err := upsertMapping(ctx, tx, systemID, imported, now)
		if err != nil {
			return err
		}
		idsByCode[imported.Mapping.Code] = mappingID
	}

	// Dependency edges resolve after every mapping in the document has an
	// id; edges may also reference mappings imported earlier.
	for _, imported := range mappings {
		mappingID := idsByCode[imported.Mapping.Code]
		for _, dependsOnCode := range imported.DependsOn {
			dependsOnID, ok := idsByCode[dependsOnCode]
			if !ok {
				if err := tx.QueryRowContext(
					ctx,
					`SELECT mapping_id FROM table_mappings WHERE code = $1`,
					strings.TrimSpace(dependsOnCode),
				).Scan(&dependsOnID); err != nil {
					return fmt.Errorf("mapping %s: unknown dependency %q: %w", imported.Mapping.Code, dependsOnCode, handleNotFound(err))
				}
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO mapping_dependencies (mapping_id, depends_on_id) VALUES ($1,$2)`,
				mappingID,
				dependsOnID,
			); err != nil {
				return fmt.Errorf("insert dependency %s -> %s: %w", imported.Mapping.Code, dependsOnCode, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func upsertSystem(ctx context.Context, tx *sql.Tx, system domain.SourceSystem, now time.Time) (string, error) {
	code := strings.TrimSpace(system.Code)
	var systemID string
	err := tx.QueryRowContext(ctx, `SELECT system_id FROM source_systems WHERE code = $1`, code).Scan(&systemID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE source_systems SET name = $1, connection_ref = $2, active = $3 WHERE system_id = $4`,
			strings.TrimSpace(system.Name),
			strings.TrimSpace(system.ConnectionRef),
			system.Active,
			systemID,
		); err != nil {
			return "", fmt.Errorf("update source system: %w", err)
		}
		return systemID, nil
	case errors.Is(err, sql.ErrNoRows):
		systemID = uuid.NewString()
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO source_systems (system_id, code, name, connection_ref, active, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			systemID,
			code,
			strings.TrimSpace(system.Name),
			strings.TrimSpace(system.ConnectionRef),
			system.Active,
			now,
		); err != nil {
			return "", fmt.Errorf("insert source system: %w", err)
		}
		return systemID, nil
	default:
		return "", fmt.Errorf("lookup source system: %w", err)
	}
}

func upsertMapping(ctx context.Context, tx *sql.Tx, systemID string, imported repo.ImportedMapping, now time.Time) (string, error) {
	mapping := imported.Mapping
	code := strings.TrimSpace(mapping.Code)
	keyColumnsJSON, err := encodeStrings(mapping.KeyColumns)
	if err != nil {
		return "", fmt.Errorf("encode key columns: %w", err)
	}

	var mappingID string
	err = tx.QueryRowContext(ctx, `SELECT mapping_id FROM table_mappings WHERE code = $1`, code).Scan(&mappingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE table_mappings SET
				system_id = $1, source_schema = $2, source_table = $3, source_filter = $4,
				target_schema = $5, target_table = $6, key_columns = $7,
				load_strategy = $8, merge_strategy = $9, watermark_column = $10,
				active = $11, updated_at = $12
			 WHERE mapping_id = $13`,
			systemID,
			strings.TrimSpace(mapping.SourceSchema),
			strings.TrimSpace(mapping.SourceTable),
			strings.TrimSpace(mapping.SourceFilter),
			strings.TrimSpace(mapping.TargetSchema),
			strings.TrimSpace(mapping.TargetTable),
			keyColumnsJSON,
			string(mapping.LoadStrategy),
			string(mapping.MergeStrategy),
			strings.TrimSpace(mapping.WatermarkColumn),
			mapping.Active,
			now,
			mappingID,
		); err != nil {
			return "", fmt.Errorf("update mapping %s: %w", code, err)
		}
		if err := deleteMappingChildren(ctx, tx, mappingID); err != nil {
			return "", fmt.Errorf("replace mapping %s: %w", code, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		mappingID = uuid.NewString()
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO table_mappings (
				mapping_id, system_id, code, source_schema, source_table, source_filter,
				target_schema, target_table, key_columns, load_strategy, merge_strategy,
				watermark_column, watermark_value, active, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			mappingID,
			systemID,
			code,
			strings.TrimSpace(mapping.SourceSchema),
			strings.TrimSpace(mapping.SourceTable),
			strings.TrimSpace(mapping.SourceFilter),
			strings.TrimSpace(mapping.TargetSchema),
			strings.TrimSpace(mapping.TargetTable),
			keyColumnsJSON,
			string(mapping.LoadStrategy),
			string(mapping.MergeStrategy),
			strings.TrimSpace(mapping.WatermarkColumn),
			strings.TrimSpace(mapping.WatermarkValue),
			mapping.Active,
			now,
			now,
		); err != nil {
			return "", fmt.Errorf("insert mapping %s: %w", code, err)
		}
	default:
		return "", fmt.Errorf("lookup mapping %s: %w", code, err)
	}

	for i, column := range imported.Columns {
		columnID := uuid.NewString()
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO column_mappings (
				column_id, mapping_id, position, target_column, source_column, kind,
				expression, default_value, data_type, nullable, is_key
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			columnID,
			mappingID,
			i,
			strings.TrimSpace(column.TargetColumn),
			strings.TrimSpace(column.SourceColumn),
			string(column.Kind),
			column.Expression,
			column.DefaultValue,
			strings.TrimSpace(column.DataType),
			column.Nullable,
			column.IsKey,
		); err != nil {
			return "", fmt.Errorf("insert column %s.%s: %w", code, column.TargetColumn, err)
		}
		for _, entry := range column.Lookups {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO lookup_entries (column_id, source_value, target_value) VALUES ($1,$2,$3)`,
				columnID,
				entry.SourceValue,
				entry.TargetValue,
			); err != nil {
				return "", fmt.Errorf("insert lookup %s.%s[%q]: %w", code, column.TargetColumn, entry.SourceValue, err)
			}
		}
	}

	for _, rule := range imported.Rules {
		paramsJSON, err := encodeRuleParams(rule.Params)
		if err != nil {
			return "", fmt.Errorf("encode rule params: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO quality_rules (rule_id, mapping_id, code, kind, target_column, severity, active, params)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			uuid.NewString(),
			mappingID,
			strings.TrimSpace(rule.Code),
			string(rule.Kind),
			strings.TrimSpace(rule.TargetColumn),
			string(rule.Severity),
			rule.Active,
			paramsJSON,
		); err != nil {
			return "", fmt.Errorf("insert rule %s.%s: %w", code, rule.Code, err)
		}
	}
	return mappingID, nil
}

func deleteMappingChildren(ctx context.Context, tx *sql.Tx, mappingID string) error {
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM lookup_entries WHERE column_id IN (SELECT column_id FROM column_mappings WHERE mapping_id = $1)`,
		mappingID,
	); err != nil {
		return fmt.Errorf("delete lookup entries: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM column_mappings WHERE mapping_id = $1`,
		`DELETE FROM quality_rules WHERE mapping_id = $1`,
		`DELETE FROM mapping_dependencies WHERE mapping_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, mappingID); err != nil {
			return err
		}
	}
	return nil
}
