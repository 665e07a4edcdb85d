// Package etl drives mappings through the
// extract, transform, validate, load pipeline and whole source systems
// through their mappings in dependency order.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/etl/extract"
	"github.com/aarelaponin/dwbridge/internal/etl/load"
	"github.com/aarelaponin/dwbridge/internal/etl/transform"
	"github.com/aarelaponin/dwbridge/internal/etl/validate"
	"github.com/aarelaponin/dwbridge/internal/plan"
	"github.com/aarelaponin/dwbridge/internal/repo"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// ErrCriticalViolation halts a mapping run when a CRITICAL rule fires.
var ErrCriticalViolation = errors.New("critical data-quality violation")

// Options are the run-scoped knobs of the orchestrator.
type Options struct {
	DryRun          bool
	BatchSize       int
	ContinueOnError bool
	// Parallel > 1 runs the mappings of one dependency level
	// concurrently; merges into a shared canonical table still
	// serialize inside the loader.
	Parallel int
}

type Runner struct {
	catalog    repo.CatalogRepository
	executions repo.ExecutionRepository
	qualityLog repo.QualityLogAppender
	source     store.SourceReader
	target     store.TargetClient
	logger     *slog.Logger
	now        repo.Clock
	opts       Options

	extractor *extract.Extractor
	validator *validate.Validator
	loader    *load.Loader
	evaluator transform.Evaluator
}

func NewRunner(
	catalog repo.CatalogRepository,
	executions repo.ExecutionRepository,
	qualityLog repo.QualityLogAppender,
	source store.SourceReader,
	target store.TargetClient,
	logger *slog.Logger,
	opts Options,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:    catalog,
		executions: executions,
		qualityLog: qualityLog,
		source:     source,
		target:     target,
		logger:     logger,
		now:        time.Now,
		opts:       opts,
		extractor:  extract.New(source),
		validator:  validate.New(target),
		loader:     load.New(target, opts.BatchSize),
		evaluator:  transform.EngineEvaluator(target),
	}
}

// RunMapping drives one mapping through the pipeline and returns its
// finalized execution record. The returned error is the mapping-level
// failure, if any; row-level problems are absorbed into the record.
func (r *Runner) RunMapping(ctx context.Context, batchID string, mapping domain.TableMapping) (domain.ExecutionRecord, error) {
	record := domain.ExecutionRecord{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		MappingID:   mapping.ID,
		MappingCode: mapping.Code,
		Status:      domain.RunRunning,
		DryRun:      r.opts.DryRun,
		StartedAt:   r.now().UTC(),
	}
	if err := r.executions.CreateExecution(ctx, record); err != nil {
		return record, fmt.Errorf("mapping %s: %w", mapping.Code, err)
	}

	runErr := r.runStages(ctx, mapping, &record)
	if runErr != nil {
		record.Status = domain.RunFailed
		record.ErrorDetail = runErr.Error()
	} else {
		record.Status = domain.RunSuccess
	}
	endedAt := r.now().UTC()
	record.EndedAt = &endedAt
	if err := r.executions.FinalizeExecution(ctx, record); err != nil {
		r.logger.Error("finalize execution failed", "mapping", mapping.Code, "error", err)
	}
	r.logger.Info("mapping run finished",
		"mapping", mapping.Code,
		"status", string(record.Status),
		"extracted", record.Extracted,
		"accepted", record.Accepted,
		"rejected", record.Rejected,
		"loaded", record.Loaded,
	)
	return record, runErr
}

func (r *Runner) runStages(ctx context.Context, mapping domain.TableMapping, record *domain.ExecutionRecord) error {
	stage := domain.StagePending
	advance := func(next domain.RunStage) error {
		if !domain.CanTransitionStage(stage, next) {
			return fmt.Errorf("mapping %s: illegal stage transition %s -> %s", mapping.Code, stage, next)
		}
		stage = next
		r.logger.Debug("stage", "mapping", mapping.Code, "stage", string(stage))
		return nil
	}

	columns, err := r.catalog.GetColumnMappings(ctx, mapping.ID)
	if err != nil {
		return fmt.Errorf("mapping %s: load column mappings: %w", mapping.Code, err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("mapping %s: no column mappings", mapping.Code)
	}
	rules, err := r.catalog.GetRules(ctx, mapping.ID)
	if err != nil {
		return fmt.Errorf("mapping %s: load rules: %w", mapping.Code, err)
	}

	if err := advance(domain.StageExtracting); err != nil {
		return err
	}
	rows, err := r.extractor.Extract(ctx, mapping, columns)
	if err != nil {
		return err
	}
	defer rows.Close()

	if err := advance(domain.StageTransforming); err != nil {
		return err
	}
	// The run cache and batch state are owned by this invocation; no
	// process-wide state participates in transformation or validation.
	cache := transform.NewCache(columns)
	batch := validate.NewBatchState()

	accepted := make([]store.Row, 0)
	logEntries := make([]domain.QualityLogEntry, 0)
	watermark := mapping.WatermarkValue
	validating := false

	for {
		row, ok, err := rows.Next()
		if err != nil {
			return &extract.SourceUnavailableError{Mapping: mapping.Code, Err: err}
		}
		if !ok {
			break
		}
		record.Extracted++
		if mapping.LoadStrategy == domain.LoadIncremental {
			watermark = maxWatermark(watermark, row[mapping.WatermarkColumn])
		}

		result, err := transform.Apply(ctx, row, columns, cache, r.evaluator)
		if err != nil {
			return fmt.Errorf("mapping %s: %w", mapping.Code, err)
		}
		record.Transformed++

		if !validating {
			if err := advance(domain.StageValidating); err != nil {
				return err
			}
			validating = true
		}
		outcome, err := r.validator.Validate(ctx, result.Row, rules, batch, result.Misses)
		if err != nil {
			return fmt.Errorf("mapping %s: %w", mapping.Code, err)
		}
		rowKey := rowKey(mapping, result.Row)
		for _, violation := range outcome.Violations {
			logEntries = append(logEntries, domain.QualityLogEntry{
				ExecutionID: record.ID,
				MappingCode: mapping.Code,
				RuleCode:    violation.RuleCode,
				Column:      violation.Column,
				Severity:    violation.Severity,
				Message:     violation.Message,
				RowKey:      rowKey,
				LoggedAt:    r.now().UTC(),
			})
		}
		if outcome.Halt {
			record.Rejected++
			r.flushQualityLog(ctx, mapping.Code, logEntries)
			return fmt.Errorf("mapping %s: row %s: %w", mapping.Code, rowKey, ErrCriticalViolation)
		}
		if outcome.Accepted {
			record.Accepted++
			accepted = append(accepted, result.Row)
		} else {
			record.Rejected++
		}
	}
	if !validating {
		if err := advance(domain.StageValidating); err != nil {
			return err
		}
	}
	r.flushQualityLog(ctx, mapping.Code, logEntries)

	if err := advance(domain.StageLoading); err != nil {
		return err
	}
	if r.opts.DryRun {
		r.logger.Info("dry run: skipping staging and merge", "mapping", mapping.Code, "accepted", record.Accepted)
		return advance(domain.StageSuccess)
	}

	result, err := r.loader.Load(ctx, mapping, columns, accepted)
	if err != nil {
		return err
	}
	record.Loaded = result.Merged
	if result.Unmatched > 0 {
		r.logger.Warn("update merge left unmatched staging rows",
			"mapping", mapping.Code, "unmatched", result.Unmatched)
	}

	if mapping.LoadStrategy == domain.LoadIncremental && watermark != mapping.WatermarkValue {
		if err := r.catalog.AdvanceWatermark(ctx, mapping.ID, watermark); err != nil {
			return fmt.Errorf("mapping %s: %w", mapping.Code, err)
		}
	}
	return advance(domain.StageSuccess)
}

func (r *Runner) flushQualityLog(ctx context.Context, mappingCode string, entries []domain.QualityLogEntry) {
	if r.qualityLog == nil || len(entries) == 0 {
		return
	}
	if err := r.qualityLog.AppendQualityLog(ctx, entries); err != nil {
		r.logger.Error("append quality log failed", "mapping", mappingCode, "error", err)
	}
}

// RunSystem resolves the system's dependency levels once, then runs
// every active mapping level by level.
func (r *Runner) RunSystem(ctx context.Context, systemCode string) (domain.BatchSummary, error) {
	summary := domain.BatchSummary{
		BatchID:    uuid.NewString(),
		SystemCode: systemCode,
		StartedAt:  r.now().UTC(),
	}

	system, err := r.catalog.GetSystem(ctx, systemCode)
	if err != nil {
		return summary, fmt.Errorf("system %s: %w", systemCode, err)
	}
	if !system.Active {
		return summary, fmt.Errorf("system %s is inactive", systemCode)
	}
	mappings, err := r.catalog.ListMappings(ctx, repo.MappingFilter{SystemCode: systemCode, ActiveOnly: true})
	if err != nil {
		return summary, fmt.Errorf("system %s: %w", systemCode, err)
	}

	byCode := make(map[string]domain.TableMapping, len(mappings))
	codeByID := make(map[string]string, len(mappings))
	for _, mapping := range mappings {
		byCode[mapping.Code] = mapping
		codeByID[mapping.ID] = mapping.Code
	}

	edges := make([]domain.Dependency, 0)
	dependsOn := make(map[string][]string)
	for _, mapping := range mappings {
		ids, err := r.catalog.GetDependencies(ctx, mapping.ID)
		if err != nil {
			return summary, fmt.Errorf("mapping %s: load dependencies: %w", mapping.Code, err)
		}
		for _, id := range ids {
			edges = append(edges, domain.Dependency{MappingID: mapping.ID, DependsOnID: id})
			if code, ok := codeByID[id]; ok {
				dependsOn[mapping.Code] = append(dependsOn[mapping.Code], code)
			}
		}
	}

	// Ordering is settled before any extraction; a cycle fails the
	// whole batch with nothing attempted.
	levels, err := plan.BuildLevels(mappings, edges)
	if err != nil {
		return summary, err
	}
	r.logger.Info("batch started",
		"batch", summary.BatchID, "system", systemCode,
		"mappings", len(mappings), "levels", len(levels), "dry_run", r.opts.DryRun)

	notRun := make(map[string]struct{})
	stop := false
	for _, level := range levels {
		if stop {
			break
		}
		records, failed := r.runLevel(ctx, summary.BatchID, level, byCode, dependsOn, notRun)
		for _, record := range records {
			summary.Records = append(summary.Records, record)
			switch record.Status {
			case domain.RunSuccess:
				summary.Attempted++
				summary.Succeeded++
				summary.RowsLoaded += record.Loaded
			case domain.RunFailed:
				summary.Attempted++
				summary.Failed++
			case domain.RunSkipped:
				summary.Skipped++
			}
		}
		if failed && !r.opts.ContinueOnError {
			stop = true
		}
	}

	summary.EndedAt = r.now().UTC()
	r.logger.Info("batch finished",
		"batch", summary.BatchID,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"rows_loaded", summary.RowsLoaded)
	return summary, nil
}

func (r *Runner) runLevel(
	ctx context.Context,
	batchID string,
	level plan.Level,
	byCode map[string]domain.TableMapping,
	dependsOn map[string][]string,
	notRun map[string]struct{},
) ([]domain.ExecutionRecord, bool) {
	records := make([]domain.ExecutionRecord, len(level))
	anyFailed := false

	run := func(i int, code string) {
		mapping := byCode[code]
		if blocking := blockedBy(code, dependsOn, notRun); blocking != "" {
			records[i] = r.recordSkip(ctx, batchID, mapping, blocking)
			return
		}
		record, err := r.RunMapping(ctx, batchID, mapping)
		records[i] = record
		if err != nil {
			r.logger.Error("mapping failed", "mapping", code, "error", err)
		}
	}

	if r.opts.Parallel > 1 && len(level) > 1 {
		// A failed sibling must not cancel the rest of the level, so
		// no errgroup.WithContext here.
		var group errgroup.Group
		group.SetLimit(r.opts.Parallel)
		for i, code := range level {
			i, code := i, code
			group.Go(func() error {
				run(i, code)
				return nil
			})
		}
		_ = group.Wait()
	} else {
		for i, code := range level {
			run(i, code)
		}
	}

	for _, record := range records {
		if record.Status != domain.RunSuccess {
			notRun[record.MappingCode] = struct{}{}
		}
		if record.Status == domain.RunFailed {
			anyFailed = true
		}
	}
	return records, anyFailed
}

// blockedBy returns the first dependency of code that did not succeed.
func blockedBy(code string, dependsOn map[string][]string, notRun map[string]struct{}) string {
	for _, dep := range dependsOn[code] {
		if _, ok := notRun[dep]; ok {
			return dep
		}
	}
	return ""
}

func (r *Runner) recordSkip(ctx context.Context, batchID string, mapping domain.TableMapping, blocking string) domain.ExecutionRecord {
	record := domain.ExecutionRecord{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		MappingID:   mapping.ID,
		MappingCode: mapping.Code,
		Status:      domain.RunRunning,
		DryRun:      r.opts.DryRun,
		StartedAt:   r.now().UTC(),
	}
	detail := fmt.Sprintf("skipped: dependency %s did not succeed", blocking)
	if err := r.executions.CreateExecution(ctx, record); err != nil {
		r.logger.Error("record skip failed", "mapping", mapping.Code, "error", err)
	}
	record.Status = domain.RunSkipped
	record.ErrorDetail = detail
	endedAt := r.now().UTC()
	record.EndedAt = &endedAt
	if err := r.executions.FinalizeExecution(ctx, record); err != nil {
		r.logger.Error("record skip failed", "mapping", mapping.Code, "error", err)
	}
	r.logger.Warn("mapping skipped", "mapping", mapping.Code, "dependency", blocking)
	return record
}

// rowKey renders the target key column values of one row for the
// quality log.
func rowKey(mapping domain.TableMapping, row store.Row) string {
	if len(mapping.KeyColumns) == 0 {
		return ""
	}
	parts := make([]string, 0, len(mapping.KeyColumns))
	for _, key := range mapping.KeyColumns {
		parts = append(parts, transform.ValueKey(row[key]))
	}
	return strings.Join(parts, "|")
}

// maxWatermark keeps the larger of the current watermark and a row's
// value, comparing numerically when both sides parse as numbers.
func maxWatermark(current string, value any) string {
	candidate := transform.ValueKey(value)
	if candidate == "" {
		return current
	}
	if current == "" {
		return candidate
	}
	a, errA := strconv.ParseFloat(current, 64)
	b, errB := strconv.ParseFloat(candidate, 64)
	if errA == nil && errB == nil {
		if b > a {
			return candidate
		}
		return current
	}
	if candidate > current {
		return candidate
	}
	return current
}
