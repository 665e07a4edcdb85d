package domain

import "strings"

// LoadStrategy selects how the extractor scopes a source read.
type LoadStrategy string

const (
	LoadFull        LoadStrategy = "FULL"
	LoadIncremental LoadStrategy = "INCREMENTAL"
)

// MergeStrategy selects how staged rows reach the canonical table.
type MergeStrategy string

const (
	MergeInsert MergeStrategy = "INSERT"
	MergeUpdate MergeStrategy = "UPDATE"
	MergeUpsert MergeStrategy = "UPSERT"
)

// TransformKind is the closed set of column transformation kinds.
type TransformKind string

const (
	TransformDirect     TransformKind = "DIRECT"
	TransformExpression TransformKind = "EXPRESSION"
	TransformLookup     TransformKind = "LOOKUP"
	TransformConstant   TransformKind = "CONSTANT"
)

// RuleKind is the closed set of data-quality rule kinds.
type RuleKind string

const (
	RuleNotNull   RuleKind = "NOT_NULL"
	RuleLength    RuleKind = "LENGTH"
	RulePattern   RuleKind = "PATTERN"
	RuleRange     RuleKind = "RANGE"
	RuleInList    RuleKind = "IN_LIST"
	RuleUnique    RuleKind = "UNIQUE"
	RuleReference RuleKind = "REFERENCE"
	RuleCustom    RuleKind = "CUSTOM"
)

// Severity orders rule outcomes; ERROR and above reject a row,
// CRITICAL additionally halts the mapping run.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Rejects() bool {
	return s == SeverityError || s == SeverityCritical
}

// NormalizeLoadStrategy maps free-form values to canonical strategies.
func NormalizeLoadStrategy(value string) LoadStrategy {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(LoadFull), "":
		return LoadFull
	case string(LoadIncremental):
		return LoadIncremental
	default:
		return ""
	}
}

func NormalizeMergeStrategy(value string) MergeStrategy {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(MergeInsert), "":
		return MergeInsert
	case string(MergeUpdate):
		return MergeUpdate
	case string(MergeUpsert):
		return MergeUpsert
	default:
		return ""
	}
}

func NormalizeTransformKind(value string) TransformKind {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(TransformDirect):
		return TransformDirect
	case string(TransformExpression):
		return TransformExpression
	case string(TransformLookup):
		return TransformLookup
	case string(TransformConstant):
		return TransformConstant
	default:
		return ""
	}
}

func NormalizeRuleKind(value string) RuleKind {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RuleNotNull):
		return RuleNotNull
	case string(RuleLength):
		return RuleLength
	case string(RulePattern):
		return RulePattern
	case string(RuleRange):
		return RuleRange
	case string(RuleInList):
		return RuleInList
	case string(RuleUnique):
		return RuleUnique
	case string(RuleReference):
		return RuleReference
	case string(RuleCustom):
		return RuleCustom
	default:
		return ""
	}
}

func NormalizeSeverity(value string) Severity {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(SeverityInfo):
		return SeverityInfo
	case string(SeverityWarning), "WARN":
		return SeverityWarning
	case string(SeverityError), "":
		return SeverityError
	case string(SeverityCritical):
		return SeverityCritical
	default:
		return ""
	}
}
