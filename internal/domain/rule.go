package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DataQualityRule is one rule applied by the validator to transformed
// rows of a single mapping.
type DataQualityRule struct {
	ID           string
	MappingID    string
	Code         string
	Kind         RuleKind
	TargetColumn string
	Severity     Severity
	Active       bool
	Params       RuleParams
}

// RuleParams carries kind-specific rule parameters. Unused fields are
// zero for kinds that do not need them.
type RuleParams struct {
	MinLength *int
	MaxLength *int
	Pattern   string
	Min       *float64
	Max       *float64
	Allowed   []string

	// REFERENCE: value must exist in RefTable.RefColumn.
	RefTable  string
	RefColumn string

	// CUSTOM: Check is a scalar query with {column} placeholders;
	// the result must equal Expect.
	Check  string
	Expect string
}

func (r DataQualityRule) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return errors.New("rule code is required")
	}
	if r.Severity == "" {
		return fmt.Errorf("rule %s: severity is invalid", r.Code)
	}
	switch r.Kind {
	case RuleNotNull:
		if strings.TrimSpace(r.TargetColumn) == "" {
			return fmt.Errorf("rule %s: NOT_NULL requires a target column", r.Code)
		}
	case RuleLength:
		if r.Params.MinLength == nil && r.Params.MaxLength == nil {
			return fmt.Errorf("rule %s: LENGTH requires min_length or max_length", r.Code)
		}
		if r.Params.MinLength != nil && *r.Params.MinLength < 0 {
			return fmt.Errorf("rule %s: min_length must be >= 0", r.Code)
		}
		if r.Params.MinLength != nil && r.Params.MaxLength != nil && *r.Params.MinLength > *r.Params.MaxLength {
			return fmt.Errorf("rule %s: min_length must be <= max_length", r.Code)
		}
	case RulePattern:
		if strings.TrimSpace(r.Params.Pattern) == "" {
			return fmt.Errorf("rule %s: PATTERN requires a pattern", r.Code)
		}
		if _, err := regexp.Compile(r.Params.Pattern); err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", r.Code, err)
		}
	case RuleRange:
		if r.Params.Min == nil && r.Params.Max == nil {
			return fmt.Errorf("rule %s: RANGE requires min or max", r.Code)
		}
		if r.Params.Min != nil && r.Params.Max != nil && *r.Params.Min > *r.Params.Max {
			return fmt.Errorf("rule %s: min must be <= max", r.Code)
		}
	case RuleInList:
		if len(r.Params.Allowed) == 0 {
			return fmt.Errorf("rule %s: IN_LIST requires allowed values", r.Code)
		}
	case RuleUnique:
		if strings.TrimSpace(r.TargetColumn) == "" {
			return fmt.Errorf("rule %s: UNIQUE requires a target column", r.Code)
		}
	case RuleReference:
		if strings.TrimSpace(r.Params.RefTable) == "" || strings.TrimSpace(r.Params.RefColumn) == "" {
			return fmt.Errorf("rule %s: REFERENCE requires ref_table and ref_column", r.Code)
		}
	case RuleCustom:
		if strings.TrimSpace(r.Params.Check) == "" {
			return fmt.Errorf("rule %s: CUSTOM requires a check query", r.Code)
		}
	default:
		return fmt.Errorf("rule %s: rule kind is invalid", r.Code)
	}
	return nil
}
