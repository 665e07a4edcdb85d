// Package sqlstore implements the store contract over database/sql.
// Both the pgx stdlib driver and the embedded sqlite driver satisfy it;
// generated SQL stays within the subset both engines accept.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aarelaponin/dwbridge/internal/store"
)

// Client wraps one database handle as both a SourceReader and a
// TargetClient.
type Client struct {
	db *sql.DB
}

func New(db *sql.DB) *Client {
	if db == nil {
		return nil
	}
	return &Client{db: db}
}

func (c *Client) QueryRows(ctx context.Context, query string, args ...any) (store.RowSet, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("sql store not initialized")
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &rowSet{rows: rows, columns: columns}, nil
}

func (c *Client) QueryValue(ctx context.Context, query string, args ...any) (any, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("sql store not initialized")
	}
	var value any
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return nil, fmt.Errorf("query value: %w", err)
	}
	return value, nil
}

func (c *Client) Begin(ctx context.Context) (store.Tx, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("sql store not initialized")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin load transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

type rowSet struct {
	rows    *sql.Rows
	columns []string
}

func (r *rowSet) Columns() []string { return r.columns }

func (r *rowSet) Next() (store.Row, bool, error) {
	if !r.rows.Next() {
		return nil, false, r.rows.Err()
	}
	values := make([]any, len(r.columns))
	pointers := make([]any, len(r.columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := r.rows.Scan(pointers...); err != nil {
		return nil, false, fmt.Errorf("scan row: %w", err)
	}
	row := make(store.Row, len(r.columns))
	for i, name := range r.columns {
		row[name] = normalizeValue(values[i])
	}
	return row, true, nil
}

func (r *rowSet) Close() error { return r.rows.Close() }

// normalizeValue keeps row values comparable across drivers; byte
// slices become strings.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Truncate(ctx context.Context, table string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	// DELETE instead of TRUNCATE: transactional on every engine and
	// valid inside the per-mapping load transaction.
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

func (t *sqlTx) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("bulk insert %s: columns are required", table)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	))
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return inserted, fmt.Errorf("bulk insert %s: row has %d values, want %d", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("insert into %s: %w", table, err)
		}
		inserted++
	}
	return inserted, nil
}

func (t *sqlTx) Merge(ctx context.Context, spec store.MergeSpec) (int64, error) {
	query, err := buildMergeSQL(spec)
	if err != nil {
		return 0, err
	}
	result, err := t.tx.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", spec.Staging, spec.Target, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", spec.Staging, spec.Target, err)
	}
	return affected, nil
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// validIdent rejects table/column names that could escape the generated
// statement; names come from the catalog, not from row data.
func validIdent(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("identifier is required")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}
