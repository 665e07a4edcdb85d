package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/etl/transform"
	"github.com/aarelaponin/dwbridge/internal/repo"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// Report is the outcome of one reconciliation run.
type Report struct {
	BatchID    string
	System     string
	Findings   []domain.ValidationFinding
	CheckedAt  time.Time
	FinishedAt time.Time
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, finding := range r.Findings {
		if !finding.Passed {
			return false
		}
	}
	return true
}

// Summary renders a short human-readable digest, one line per failed
// check.
func (r Report) Summary() string {
	passed := 0
	var failed []string
	for _, finding := range r.Findings {
		if finding.Passed {
			passed++
			continue
		}
		failed = append(failed, fmt.Sprintf("  FAIL %-22s %s: expected %s, got %s",
			finding.Category, finding.CheckName, finding.Expected, finding.Actual))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "reconciliation %s: %d/%d checks passed\n", r.System, passed, len(r.Findings))
	for _, line := range failed {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Checker evaluates one check document against the two stores. A failed
// check never aborts the run; every check produces a finding.
type Checker struct {
	catalog  repo.CatalogRepository
	source   store.SourceReader
	target   store.TargetReader
	findings repo.FindingRepository
	logger   *slog.Logger
	now      repo.Clock
}

func NewChecker(
	catalog repo.CatalogRepository,
	source store.SourceReader,
	target store.TargetReader,
	findings repo.FindingRepository,
	logger *slog.Logger,
) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		catalog:  catalog,
		source:   source,
		target:   target,
		findings: findings,
		logger:   logger,
		now:      time.Now,
	}
}

// Run evaluates the document plus the catalog-derived mandatory-field
// checks, persists the findings under batchID and returns the report.
func (c *Checker) Run(ctx context.Context, batchID string, doc Document) (Report, error) {
	report := Report{
		BatchID:   batchID,
		System:    doc.System,
		CheckedAt: c.now().UTC(),
	}

	for _, check := range doc.RowCounts {
		finding, err := c.checkRowCount(ctx, check)
		if err != nil {
			return report, err
		}
		report.Findings = append(report.Findings, finding)
	}
	for _, check := range doc.ForeignKeys {
		finding, err := c.checkForeignKey(ctx, check)
		if err != nil {
			return report, err
		}
		report.Findings = append(report.Findings, finding)
	}
	mandatory, err := c.checkMandatoryFields(ctx, doc.System)
	if err != nil {
		return report, err
	}
	report.Findings = append(report.Findings, mandatory...)
	for _, check := range doc.BusinessRules {
		finding, err := c.checkBusinessRule(ctx, check)
		if err != nil {
			return report, err
		}
		report.Findings = append(report.Findings, finding)
	}

	for i := range report.Findings {
		report.Findings[i].ID = uuid.NewString()
		report.Findings[i].BatchID = batchID
		report.Findings[i].CheckedAt = report.CheckedAt
	}
	if c.findings != nil && len(report.Findings) > 0 {
		if err := c.findings.AppendFindings(ctx, report.Findings); err != nil {
			return report, fmt.Errorf("persist findings: %w", err)
		}
	}
	report.FinishedAt = c.now().UTC()
	c.logger.Info("reconciliation finished",
		"batch", batchID, "system", doc.System,
		"checks", len(report.Findings), "passed", report.Passed())
	return report, nil
}

func (c *Checker) checkRowCount(ctx context.Context, check RowCountCheck) (domain.ValidationFinding, error) {
	mapping, err := c.catalog.GetMapping(ctx, check.Mapping)
	if err != nil {
		return domain.ValidationFinding{}, fmt.Errorf("row count %s: %w", check.Mapping, err)
	}
	sourceQuery := "SELECT COUNT(1) FROM " + mapping.SourceRef()
	if strings.TrimSpace(mapping.SourceFilter) != "" {
		sourceQuery += " WHERE (" + mapping.SourceFilter + ")"
	}
	sourceCount, err := c.countValue(ctx, c.source, sourceQuery)
	if err != nil {
		return domain.ValidationFinding{}, fmt.Errorf("row count %s: source: %w", check.Mapping, err)
	}
	targetCount, err := c.countValue(ctx, c.target, "SELECT COUNT(1) FROM "+mapping.TargetRef())
	if err != nil {
		return domain.ValidationFinding{}, fmt.Errorf("row count %s: target: %w", check.Mapping, err)
	}

	var ratio float64
	switch {
	case sourceCount == 0 && targetCount == 0:
		ratio = check.ExpectedRatio
	case sourceCount == 0:
		ratio = -1
	default:
		ratio = float64(targetCount) / float64(sourceCount)
	}
	passed := ratio >= check.ExpectedRatio-check.Tolerance && ratio <= check.ExpectedRatio+check.Tolerance
	return domain.ValidationFinding{
		Category:  domain.CheckRowCount,
		Entity:    mapping.TargetRef(),
		CheckName: "row_count:" + check.Mapping,
		Expected:  fmt.Sprintf("ratio %g (+/-%g)", check.ExpectedRatio, check.Tolerance),
		Actual:    fmt.Sprintf("ratio %.4f", ratio),
		Passed:    passed,
		Detail:    fmt.Sprintf("source=%d target=%d", sourceCount, targetCount),
	}, nil
}

func (c *Checker) checkForeignKey(ctx context.Context, check ForeignKeyCheck) (domain.ValidationFinding, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(1) FROM %s WHERE %s IS NOT NULL AND %s NOT IN (SELECT %s FROM %s)",
		check.Table, check.Column, check.Column, check.RefColumn, check.RefTable,
	)
	args := []any{}
	if check.UnresolvedKey != "" {
		query += " AND " + check.Column + " <> $1"
		args = append(args, check.UnresolvedKey)
	}
	orphans, err := c.countValue(ctx, c.target, query, args...)
	if err != nil {
		return domain.ValidationFinding{}, fmt.Errorf("foreign key %s.%s: %w", check.Table, check.Column, err)
	}
	// Sentinel rows are exempt from the orphan count but reported as
	// their own metric.
	detail := ""
	if check.UnresolvedKey != "" {
		unresolved, err := c.countValue(ctx, c.target,
			fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s = $1", check.Table, check.Column),
			check.UnresolvedKey)
		if err != nil {
			return domain.ValidationFinding{}, fmt.Errorf("foreign key %s.%s: %w", check.Table, check.Column, err)
		}
		detail = fmt.Sprintf("unresolved=%d", unresolved)
	}
	return domain.ValidationFinding{
		Category:  domain.CheckReferential,
		Entity:    check.Table,
		CheckName: fmt.Sprintf("fk:%s.%s->%s.%s", check.Table, check.Column, check.RefTable, check.RefColumn),
		Expected:  "0 orphans",
		Actual:    fmt.Sprintf("%d orphans", orphans),
		Passed:    orphans == 0,
		Detail:    detail,
	}, nil
}

// checkMandatoryFields counts NULLs in every target column the catalog
// declares non-nullable, one finding per mapping with at least one such
// column.
func (c *Checker) checkMandatoryFields(ctx context.Context, systemCode string) ([]domain.ValidationFinding, error) {
	mappings, err := c.catalog.ListMappings(ctx, repo.MappingFilter{SystemCode: systemCode, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("mandatory fields: %w", err)
	}
	var findings []domain.ValidationFinding
	for _, mapping := range mappings {
		columns, err := c.catalog.GetColumnMappings(ctx, mapping.ID)
		if err != nil {
			return nil, fmt.Errorf("mandatory fields %s: %w", mapping.Code, err)
		}
		var required []string
		for _, column := range columns {
			if !column.Nullable {
				required = append(required, column.TargetColumn)
			}
		}
		if len(required) == 0 {
			continue
		}
		var total int64
		var offenders []string
		for _, column := range required {
			nulls, err := c.countValue(ctx, c.target,
				fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s IS NULL", mapping.TargetRef(), column))
			if err != nil {
				return nil, fmt.Errorf("mandatory fields %s.%s: %w", mapping.Code, column, err)
			}
			if nulls > 0 {
				total += nulls
				offenders = append(offenders, fmt.Sprintf("%s=%d", column, nulls))
			}
		}
		findings = append(findings, domain.ValidationFinding{
			Category:  domain.CheckMandatoryField,
			Entity:    mapping.TargetRef(),
			CheckName: "mandatory:" + mapping.Code,
			Expected:  "0 null values",
			Actual:    fmt.Sprintf("%d null values", total),
			Passed:    total == 0,
			Detail:    strings.Join(offenders, " "),
		})
	}
	return findings, nil
}

func (c *Checker) checkBusinessRule(ctx context.Context, check BusinessRuleCheck) (domain.ValidationFinding, error) {
	value, err := c.target.QueryValue(ctx, check.Query)
	if err != nil {
		return domain.ValidationFinding{}, fmt.Errorf("business rule %s: %w", check.Name, err)
	}
	actual := transform.ValueKey(value)
	return domain.ValidationFinding{
		Category:  domain.CheckBusinessRule,
		CheckName: check.Name,
		Expected:  check.Expect,
		Actual:    actual,
		Passed:    actual == check.Expect,
	}, nil
}

func (c *Checker) countValue(ctx context.Context, reader store.TargetReader, query string, args ...any) (int64, error) {
	value, err := reader.QueryValue(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return toInt64(value)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("count query returned %T, want an integer", value)
	}
}
