package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

// ExecutionStore persists execution records and the quality log.
type ExecutionStore struct {
	db  DB
	now repo.Clock
}

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db, now: time.Now}
}

func (s *ExecutionStore) CreateExecution(ctx context.Context, record domain.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if strings.TrimSpace(record.MappingCode) == "" {
		return fmt.Errorf("mapping code is required")
	}
	if record.Status == "" {
		record.Status = domain.RunRunning
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO execution_records (
			execution_id, batch_id, mapping_id, mapping_code, status, dry_run, started_at,
			extracted, transformed, accepted, rejected, loaded, error_detail
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,0,0,0,'')`,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.BatchID),
		strings.TrimSpace(record.MappingID),
		strings.TrimSpace(record.MappingCode),
		string(record.Status),
		record.DryRun,
		normalizeTime(record.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// FinalizeExecution writes the terminal statistics exactly once; records
// already finalized are left untouched and the call fails.
func (s *ExecutionStore) FinalizeExecution(ctx context.Context, record domain.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if record.Status != domain.RunSuccess && record.Status != domain.RunFailed && record.Status != domain.RunSkipped {
		return fmt.Errorf("finalize requires a terminal status, got %q", record.Status)
	}
	endedAt := s.now().UTC()
	if record.EndedAt != nil {
		endedAt = record.EndedAt.UTC()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE execution_records SET
			status = $1, ended_at = $2, extracted = $3, transformed = $4,
			accepted = $5, rejected = $6, loaded = $7, error_detail = $8
		 WHERE execution_id = $9 AND status = $10`,
		string(record.Status),
		endedAt,
		record.Extracted,
		record.Transformed,
		record.Accepted,
		record.Rejected,
		record.Loaded,
		strings.TrimSpace(record.ErrorDetail),
		strings.TrimSpace(record.ID),
		string(domain.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("finalize execution record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize execution record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution %s is not running: %w", record.ID, repo.ErrNotFound)
	}
	return nil
}

func (s *ExecutionStore) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if strings.TrimSpace(filter.BatchID) != "" {
		args = append(args, strings.TrimSpace(filter.BatchID))
		clauses = append(clauses, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.MappingCode) != "" {
		args = append(args, strings.TrimSpace(filter.MappingCode))
		clauses = append(clauses, fmt.Sprintf("mapping_code = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT execution_id, batch_id, mapping_id, mapping_code, status, dry_run,
		started_at, ended_at, extracted, transformed, accepted, rejected, loaded, error_detail
	 FROM execution_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at, mapping_code"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExecutionRecord, 0)
	for rows.Next() {
		var record domain.ExecutionRecord
		var status string
		var endedAt sql.NullTime
		if err := rows.Scan(
			&record.ID,
			&record.BatchID,
			&record.MappingID,
			&record.MappingCode,
			&status,
			&record.DryRun,
			&record.StartedAt,
			&endedAt,
			&record.Extracted,
			&record.Transformed,
			&record.Accepted,
			&record.Rejected,
			&record.Loaded,
			&record.ErrorDetail,
		); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		record.Status = domain.NormalizeRunStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			record.EndedAt = &t
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// AppendQualityLog appends failed validations; entries are never updated
// or deleted afterwards.
func (s *ExecutionStore) AppendQualityLog(ctx context.Context, entries []domain.QualityLogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := s.db.ExecContext(
			ctx,
			`INSERT INTO data_quality_log (
				log_id, execution_id, mapping_code, rule_code, column_name, severity, message, row_key, logged_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id,
			strings.TrimSpace(entry.ExecutionID),
			strings.TrimSpace(entry.MappingCode),
			strings.TrimSpace(entry.RuleCode),
			strings.TrimSpace(entry.Column),
			string(entry.Severity),
			entry.Message,
			entry.RowKey,
			normalizeTime(entry.LoggedAt),
		); err != nil {
			return fmt.Errorf("append quality log: %w", err)
		}
	}
	return nil
}
