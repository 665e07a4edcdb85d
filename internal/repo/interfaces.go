package repo

import (
	"context"
	"errors"
	"time"

	"github.com/aarelaponin/dwbridge/internal/domain"
)

// ErrNotFound is returned by catalog lookups that miss.
var ErrNotFound = errors.New("not found")

type MappingFilter struct {
	SystemCode string
	ActiveOnly bool
	Limit      int
}

type ExecutionFilter struct {
	BatchID     string
	MappingCode string
	Status      domain.RunStatus
	Limit       int
}

type FindingFilter struct {
	BatchID  string
	Category domain.CheckCategory
	Limit    int
}

// CatalogRepository reads mapping metadata and owns its lifecycle
// through ImportSystem. The pipeline only reads.
type CatalogRepository interface {
	GetSystem(ctx context.Context, code string) (domain.SourceSystem, error)
	GetMapping(ctx context.Context, code string) (domain.TableMapping, error)
	GetMappingByID(ctx context.Context, id string) (domain.TableMapping, error)
	ListMappings(ctx context.Context, filter MappingFilter) ([]domain.TableMapping, error)
	GetColumnMappings(ctx context.Context, mappingID string) ([]domain.ColumnMapping, error)
	GetRules(ctx context.Context, mappingID string) ([]domain.DataQualityRule, error)
	GetDependencies(ctx context.Context, mappingID string) ([]string, error)

	// ImportSystem upserts one source system with its mappings. Each
	// mapping is replaced atomically: its old column mappings, lookup
	// entries, rules and dependency edges are deleted and the new ones
	// inserted inside one transaction.
	ImportSystem(ctx context.Context, system domain.SourceSystem, mappings []ImportedMapping) error

	// AdvanceWatermark records the highest watermark value seen by a
	// successful incremental load.
	AdvanceWatermark(ctx context.Context, mappingID, value string) error
}

// ImportedMapping groups one mapping with its owned children for import.
type ImportedMapping struct {
	Mapping   domain.TableMapping
	Columns   []domain.ColumnMapping
	Rules     []domain.DataQualityRule
	DependsOn []string // mapping codes
}

// ExecutionRepository owns ExecutionRecord lifecycles: created RUNNING,
// finalized exactly once, immutable afterwards.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, record domain.ExecutionRecord) error
	FinalizeExecution(ctx context.Context, record domain.ExecutionRecord) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.ExecutionRecord, error)
}

// QualityLogAppender ensures append-only quality log writes.
type QualityLogAppender interface {
	AppendQualityLog(ctx context.Context, entries []domain.QualityLogEntry) error
}

// FindingRepository owns ValidationFinding lifecycles (append-only).
type FindingRepository interface {
	AppendFindings(ctx context.Context, findings []domain.ValidationFinding) error
	ListFindings(ctx context.Context, filter FindingFilter) ([]domain.ValidationFinding, error)
}

// Clock is the time source injected into stores and the orchestrator so
// tests stay deterministic.
type Clock func() time.Time
