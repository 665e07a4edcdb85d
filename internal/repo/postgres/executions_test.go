package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

func runningRecord(id, batch, code string) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:          id,
		BatchID:     batch,
		MappingID:   "m-" + code,
		MappingCode: code,
		Status:      domain.RunRunning,
		StartedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestExecutionLifecycle(t *testing.T) {
	store := NewExecutionStore(openTestDB(t))
	ctx := context.Background()

	record := runningRecord("e1", "b1", "dim_taxpayer")
	if err := store.CreateExecution(ctx, record); err != nil {
		t.Fatalf("CreateExecution() err=%v", err)
	}

	record.Status = domain.RunSuccess
	record.Extracted = 100
	record.Transformed = 100
	record.Accepted = 95
	record.Rejected = 5
	record.Loaded = 95
	if err := store.FinalizeExecution(ctx, record); err != nil {
		t.Fatalf("FinalizeExecution() err=%v", err)
	}

	records, err := store.ListExecutions(ctx, repo.ExecutionFilter{BatchID: "b1"})
	if err != nil {
		t.Fatalf("ListExecutions() err=%v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records=%d, want 1", len(records))
	}
	got := records[0]
	if got.Status != domain.RunSuccess || got.Accepted != 95 || got.Rejected != 5 || got.Loaded != 95 {
		t.Fatalf("record=%+v", got)
	}
	if got.EndedAt == nil {
		t.Fatal("EndedAt=nil after finalize")
	}
}

func TestFinalizeExecutionOnlyOnce(t *testing.T) {
	store := NewExecutionStore(openTestDB(t))
	ctx := context.Background()

	record := runningRecord("e1", "b1", "dim_taxpayer")
	if err := store.CreateExecution(ctx, record); err != nil {
		t.Fatalf("CreateExecution() err=%v", err)
	}
	record.Status = domain.RunFailed
	record.ErrorDetail = "source unavailable"
	if err := store.FinalizeExecution(ctx, record); err != nil {
		t.Fatalf("FinalizeExecution() err=%v", err)
	}

	record.Status = domain.RunSuccess
	err := store.FinalizeExecution(ctx, record)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second FinalizeExecution() err=%v, want ErrNotFound", err)
	}

	records, _ := store.ListExecutions(ctx, repo.ExecutionFilter{BatchID: "b1"})
	if records[0].Status != domain.RunFailed || records[0].ErrorDetail != "source unavailable" {
		t.Fatalf("record=%+v, want first finalize preserved", records[0])
	}
}

func TestFinalizeExecutionRequiresTerminalStatus(t *testing.T) {
	store := NewExecutionStore(openTestDB(t))
	record := runningRecord("e1", "b1", "x")
	if err := store.FinalizeExecution(context.Background(), record); err == nil {
		t.Fatal("FinalizeExecution(RUNNING) err=nil, want error")
	}
}

func TestListExecutionsFilters(t *testing.T) {
	store := NewExecutionStore(openTestDB(t))
	ctx := context.Background()

	for i, code := range []string{"a", "b"} {
		record := runningRecord("e"+code, "b1", code)
		record.StartedAt = record.StartedAt.Add(time.Duration(i) * time.Minute)
		if err := store.CreateExecution(ctx, record); err != nil {
			t.Fatalf("CreateExecution() err=%v", err)
		}
		record.Status = domain.RunSuccess
		if err := store.FinalizeExecution(ctx, record); err != nil {
			t.Fatalf("FinalizeExecution() err=%v", err)
		}
	}
	other := runningRecord("eo", "b2", "a")
	if err := store.CreateExecution(ctx, other); err != nil {
		t.Fatalf("CreateExecution() err=%v", err)
	}

	byBatch, err := store.ListExecutions(ctx, repo.ExecutionFilter{BatchID: "b1"})
	if err != nil {
		t.Fatalf("ListExecutions() err=%v", err)
	}
	if len(byBatch) != 2 {
		t.Fatalf("batch b1 records=%d, want 2", len(byBatch))
	}

	byStatus, err := store.ListExecutions(ctx, repo.ExecutionFilter{Status: domain.RunRunning})
	if err != nil {
		t.Fatalf("ListExecutions() err=%v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "eo" {
		t.Fatalf("running records=%+v", byStatus)
	}

	limited, err := store.ListExecutions(ctx, repo.ExecutionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListExecutions() err=%v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited records=%d, want 1", len(limited))
	}
}

func TestAppendQualityLog(t *testing.T) {
	db := openTestDB(t)
	store := NewExecutionStore(db)
	ctx := context.Background()

	entries := []domain.QualityLogEntry{
		{
			ExecutionID: "e1",
			MappingCode: "dim_taxpayer",
			RuleCode:    "tin_not_null",
			Column:      "tin",
			Severity:    domain.SeverityError,
			Message:     "column tin is null or empty",
			RowKey:      "t42",
		},
		{
			ExecutionID: "e1",
			MappingCode: "dim_taxpayer",
			RuleCode:    "UNMAPPED_LOOKUP",
			Column:      "status_name",
			Severity:    domain.SeverityWarning,
			Message:     `no lookup entry for source value "Z"`,
			RowKey:      "t43",
		},
	}
	if err := store.AppendQualityLog(ctx, entries); err != nil {
		t.Fatalf("AppendQualityLog() err=%v", err)
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM data_quality_log WHERE execution_id = 'e1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("quality log rows=%d, want 2", count)
	}
}
