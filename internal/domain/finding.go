package domain

import "time"

// CheckCategory names the reconciliation check families.
type CheckCategory string

const (
	CheckRowCount       CheckCategory = "ROW_COUNT"
	CheckReferential    CheckCategory = "REFERENTIAL_INTEGRITY"
	CheckMandatoryField CheckCategory = "MANDATORY_FIELD"
	CheckBusinessRule   CheckCategory = "BUSINESS_RULE"
)

// ValidationFinding is one reconciliation check outcome. Created only by
// the reconciliation framework, never mutated.
type ValidationFinding struct {
	ID        string
	BatchID   string
	Category  CheckCategory
	Entity    string
	CheckName string
	Expected  string
	Actual    string
	Passed    bool
	Detail    string
	CheckedAt time.Time
}

// Violation is one failed rule evaluation against one row. Violations
// are aggregated into the execution record and quality log, never raised.
type Violation struct {
	RuleCode string
	Kind     RuleKind
	Column   string
	Severity Severity
	Message  string
	Value    string
}

// QualityLogEntry is one appended data-quality log row.
type QualityLogEntry struct {
	ID          string
	ExecutionID string
	MappingCode string
	RuleCode    string
	Column      string
	Severity    Severity
	Message     string
	RowKey      string
	LoggedAt    time.Time
}
