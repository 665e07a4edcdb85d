package postgres

import (
	"context"
	"fmt"
)

// Bootstrap creates the engine's own tables when they do not exist. The
// DDL stays within the portable subset both postgres and sqlite accept;
// business tables on either side of the boundary are external and never
// created here.
func Bootstrap(ctx context.Context, db DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS source_systems (
			system_id      TEXT PRIMARY KEY,
			code           TEXT NOT NULL UNIQUE,
			name           TEXT NOT NULL,
			connection_ref TEXT NOT NULL DEFAULT '',
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS table_mappings (
			mapping_id       TEXT PRIMARY KEY,
			system_id        TEXT NOT NULL REFERENCES source_systems(system_id),
			code             TEXT NOT NULL UNIQUE,
			source_schema    TEXT NOT NULL DEFAULT '',
			source_table     TEXT NOT NULL,
			source_filter    TEXT NOT NULL DEFAULT '',
			target_schema    TEXT NOT NULL DEFAULT '',
			target_table     TEXT NOT NULL,
			key_columns      TEXT NOT NULL DEFAULT '[]',
			load_strategy    TEXT NOT NULL,
			merge_strategy   TEXT NOT NULL,
			watermark_column TEXT NOT NULL DEFAULT '',
			watermark_value  TEXT NOT NULL DEFAULT '',
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS column_mappings (
			column_id     TEXT PRIMARY KEY,
			mapping_id    TEXT NOT NULL REFERENCES table_mappings(mapping_id),
			position      INTEGER NOT NULL,
			target_column TEXT NOT NULL,
			source_column TEXT NOT NULL DEFAULT '',
			kind          TEXT NOT NULL,
			expression    TEXT NOT NULL DEFAULT '',
			default_value TEXT NOT NULL DEFAULT '',
			data_type     TEXT NOT NULL DEFAULT '',
			nullable      BOOLEAN NOT NULL DEFAULT TRUE,
			is_key        BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS lookup_entries (
			column_id    TEXT NOT NULL REFERENCES column_mappings(column_id),
			source_value TEXT NOT NULL,
			target_value TEXT NOT NULL,
			PRIMARY KEY (column_id, source_value)
		)`,
		`CREATE TABLE IF NOT EXISTS quality_rules (
			rule_id       TEXT PRIMARY KEY,
			mapping_id    TEXT NOT NULL REFERENCES table_mappings(mapping_id),
			code          TEXT NOT NULL,
			kind          TEXT NOT NULL,
			target_column TEXT NOT NULL DEFAULT '',
			severity      TEXT NOT NULL,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			params        TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS mapping_dependencies (
			mapping_id    TEXT NOT NULL REFERENCES table_mappings(mapping_id),
			depends_on_id TEXT NOT NULL REFERENCES table_mappings(mapping_id),
			PRIMARY KEY (mapping_id, depends_on_id)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			execution_id TEXT PRIMARY KEY,
			batch_id     TEXT NOT NULL,
			mapping_id   TEXT NOT NULL,
			mapping_code TEXT NOT NULL,
			status       TEXT NOT NULL,
			dry_run      BOOLEAN NOT NULL DEFAULT FALSE,
			started_at   TIMESTAMP NOT NULL,
			ended_at     TIMESTAMP,
			extracted    BIGINT NOT NULL DEFAULT 0,
			transformed  BIGINT NOT NULL DEFAULT 0,
			accepted     BIGINT NOT NULL DEFAULT 0,
			rejected     BIGINT NOT NULL DEFAULT 0,
			loaded       BIGINT NOT NULL DEFAULT 0,
			error_detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS data_quality_log (
			log_id       TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			mapping_code TEXT NOT NULL,
			rule_code    TEXT NOT NULL,
			column_name  TEXT NOT NULL DEFAULT '',
			severity     TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT '',
			row_key      TEXT NOT NULL DEFAULT '',
			logged_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS validation_findings (
			finding_id TEXT PRIMARY KEY,
			batch_id   TEXT NOT NULL,
			category   TEXT NOT NULL,
			entity     TEXT NOT NULL DEFAULT '',
			check_name TEXT NOT NULL,
			expected   TEXT NOT NULL DEFAULT '',
			actual     TEXT NOT NULL DEFAULT '',
			passed     BOOLEAN NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			checked_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
