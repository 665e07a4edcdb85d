package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

// FindingStore persists reconciliation findings (append-only).
type FindingStore struct {
	db  DB
	now repo.Clock
}

func NewFindingStore(db DB) *FindingStore {
	if db == nil {
		return nil
	}
	return &FindingStore{db: db, now: time.Now}
}

func (s *FindingStore) AppendFindings(ctx context.Context, findings []domain.ValidationFinding) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("finding store not initialized")
	}
	for _, finding := range findings {
		if strings.TrimSpace(finding.CheckName) == "" {
			return fmt.Errorf("finding check name is required")
		}
		id := strings.TrimSpace(finding.ID)
		if id == "" {
			id = uuid.NewString()
		}
		checkedAt := finding.CheckedAt
		if checkedAt.IsZero() {
			checkedAt = s.now()
		}
		if _, err := s.db.ExecContext(
			ctx,
			`INSERT INTO validation_findings (
				finding_id, batch_id, category, entity, check_name, expected, actual, passed, detail, checked_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			id,
			strings.TrimSpace(finding.BatchID),
			string(finding.Category),
			strings.TrimSpace(finding.Entity),
			strings.TrimSpace(finding.CheckName),
			finding.Expected,
			finding.Actual,
			finding.Passed,
			finding.Detail,
			checkedAt.UTC(),
		); err != nil {
			return fmt.Errorf("append finding %s: %w", finding.CheckName, err)
		}
	}
	return nil
}

func (s *FindingStore) ListFindings(ctx context.Context, filter repo.FindingFilter) ([]domain.ValidationFinding, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("finding store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if strings.TrimSpace(filter.BatchID) != "" {
		args = append(args, strings.TrimSpace(filter.BatchID))
		clauses = append(clauses, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	query := `SELECT finding_id, batch_id, category, entity, check_name, expected, actual, passed, detail, checked_at
	 FROM validation_findings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY checked_at, check_name"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ValidationFinding, 0)
	for rows.Next() {
		var finding domain.ValidationFinding
		var category string
		if err := rows.Scan(
			&finding.ID,
			&finding.BatchID,
			&category,
			&finding.Entity,
			&finding.CheckName,
			&finding.Expected,
			&finding.Actual,
			&finding.Passed,
			&finding.Detail,
			&finding.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		finding.Category = domain.CheckCategory(category)
		out = append(out, finding)
	}
	return out, rows.Err()
}
