package sqlstore

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, statements ...string) {
	t.Helper()
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("exec %q: %v", statement, err)
		}
	}
}

func TestQueryRowsStreams(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db,
		`CREATE TABLE taxpayer (id INTEGER PRIMARY KEY, tin TEXT)`,
		`INSERT INTO taxpayer VALUES (1, '111'), (2, '222')`,
	)
	client := New(db)

	rows, err := client.QueryRows(context.Background(), "SELECT id, tin FROM taxpayer ORDER BY id")
	if err != nil {
		t.Fatalf("QueryRows() err=%v", err)
	}
	defer rows.Close()

	first, ok, err := rows.Next()
	if err != nil || !ok {
		t.Fatalf("Next() ok=%t err=%v", ok, err)
	}
	if first["id"] != int64(1) || first["tin"] != "111" {
		t.Fatalf("first row=%v", first)
	}
	if _, ok, _ := rows.Next(); !ok {
		t.Fatal("second row missing")
	}
	if _, ok, err := rows.Next(); ok || err != nil {
		t.Fatalf("end of set ok=%t err=%v", ok, err)
	}
}

func TestLoadTransactionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db,
		`CREATE TABLE stg_dim_taxpayer (taxpayer_id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE dim_taxpayer (taxpayer_id TEXT PRIMARY KEY, name TEXT)`,
		`INSERT INTO stg_dim_taxpayer VALUES ('stale', 'left over')`,
		`INSERT INTO dim_taxpayer VALUES ('t1', 'old name')`,
	)
	client := New(db)
	ctx := context.Background()

	tx, err := client.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if err := tx.Truncate(ctx, "stg_dim_taxpayer"); err != nil {
		t.Fatalf("Truncate() err=%v", err)
	}
	inserted, err := tx.BulkInsert(ctx, "stg_dim_taxpayer",
		[]string{"taxpayer_id", "name"},
		[][]any{{"t1", "new name"}, {"t2", "second"}},
	)
	if err != nil {
		t.Fatalf("BulkInsert() err=%v", err)
	}
	if inserted != 2 {
		t.Fatalf("BulkInsert()=%d, want 2", inserted)
	}
	merged, err := tx.Merge(ctx, store.MergeSpec{
		Staging:    "stg_dim_taxpayer",
		Target:     "dim_taxpayer",
		Columns:    []string{"taxpayer_id", "name"},
		KeyColumns: []string{"taxpayer_id"},
		Strategy:   domain.MergeUpsert,
	})
	if err != nil {
		t.Fatalf("Merge() err=%v", err)
	}
	if merged != 2 {
		t.Fatalf("Merge()=%d, want 2", merged)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() err=%v", err)
	}

	value, err := client.QueryValue(ctx, "SELECT name FROM dim_taxpayer WHERE taxpayer_id = $1", "t1")
	if err != nil {
		t.Fatalf("QueryValue() err=%v", err)
	}
	if normalizeValue(value) != "new name" {
		t.Fatalf("upserted name=%v, want %q", value, "new name")
	}
	count, err := client.QueryValue(ctx, "SELECT COUNT(1) FROM dim_taxpayer")
	if err != nil {
		t.Fatalf("QueryValue() err=%v", err)
	}
	if count != int64(2) {
		t.Fatalf("row count=%v, want 2", count)
	}
}

func TestRollbackLeavesTargetUntouched(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db,
		`CREATE TABLE stg_t (id TEXT PRIMARY KEY)`,
		`CREATE TABLE t (id TEXT PRIMARY KEY)`,
	)
	client := New(db)
	ctx := context.Background()

	tx, err := client.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if _, err := tx.BulkInsert(ctx, "stg_t", []string{"id"}, [][]any{{"a"}}); err != nil {
		t.Fatalf("BulkInsert() err=%v", err)
	}
	if _, err := tx.Merge(ctx, store.MergeSpec{
		Staging: "stg_t", Target: "t", Columns: []string{"id"}, Strategy: domain.MergeInsert,
	}); err != nil {
		t.Fatalf("Merge() err=%v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() err=%v", err)
	}

	count, err := client.QueryValue(ctx, "SELECT COUNT(1) FROM t")
	if err != nil {
		t.Fatalf("QueryValue() err=%v", err)
	}
	if count != int64(0) {
		t.Fatalf("row count after rollback=%v, want 0", count)
	}
}

func TestQueryValueNormalizesBytes(t *testing.T) {
	if got := normalizeValue([]byte("x")); got != "x" {
		t.Fatalf("normalizeValue()=%v, want string", got)
	}
}
