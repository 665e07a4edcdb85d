// Package validate applies a mapping's data-quality rules to
// transformed rows. Rules never short-circuit each other: every active
// rule is evaluated and all violations collected before acceptance is
// decided.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/etl/transform"
	"github.com/aarelaponin/dwbridge/internal/store"
)

// Outcome is the validator's verdict for one row. A row is rejected iff
// at least one violation carries ERROR or CRITICAL severity; CRITICAL
// additionally tells the orchestrator to halt the mapping run.
type Outcome struct {
	Accepted   bool
	Halt       bool
	Violations []domain.Violation
}

// BatchState carries run-scoped validation state: UNIQUE values seen
// earlier in the same batch and memoized REFERENCE lookups. It is owned
// by one mapping run and never shared.
type BatchState struct {
	seen     map[string]map[string]struct{}
	refs     map[string]bool
	patterns map[string]*regexp.Regexp
}

func NewBatchState() *BatchState {
	return &BatchState{
		seen:     make(map[string]map[string]struct{}),
		refs:     make(map[string]bool),
		patterns: make(map[string]*regexp.Regexp),
	}
}

type Validator struct {
	target store.TargetReader
}

func New(target store.TargetReader) *Validator {
	return &Validator{target: target}
}

// Validate evaluates every active rule against the row independently.
// Extra violations (soft failures from earlier stages, e.g. unmapped
// lookups) are merged into the outcome and count toward acceptance by
// their own severity.
func (v *Validator) Validate(ctx context.Context, row store.Row, rules []domain.DataQualityRule, state *BatchState, extra []domain.Violation) (Outcome, error) {
	if state == nil {
		return Outcome{}, fmt.Errorf("batch state is required")
	}
	violations := append([]domain.Violation{}, extra...)

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		violation, err := v.evaluate(ctx, row, rule, state)
		if err != nil {
			return Outcome{}, err
		}
		if violation != nil {
			violations = append(violations, *violation)
		}
	}

	outcome := Outcome{Accepted: true, Violations: violations}
	for _, violation := range violations {
		if violation.Severity.Rejects() {
			outcome.Accepted = false
		}
		if violation.Severity == domain.SeverityCritical {
			outcome.Halt = true
		}
	}
	return outcome, nil
}

func (v *Validator) evaluate(ctx context.Context, row store.Row, rule domain.DataQualityRule, state *BatchState) (*domain.Violation, error) {
	value := row[rule.TargetColumn]
	isNull := value == nil || strings.TrimSpace(transform.ValueKey(value)) == ""

	fail := func(message string) *domain.Violation {
		return &domain.Violation{
			RuleCode: rule.Code,
			Kind:     rule.Kind,
			Column:   rule.TargetColumn,
			Severity: rule.Severity,
			Message:  message,
			Value:    transform.ValueKey(value),
		}
	}

	switch rule.Kind {
	case domain.RuleNotNull:
		if isNull {
			return fail(fmt.Sprintf("column %s is null or empty", rule.TargetColumn)), nil
		}
		return nil, nil

	case domain.RuleLength:
		if isNull {
			return nil, nil
		}
		length := utf8.RuneCountInString(transform.ValueKey(value))
		if rule.Params.MinLength != nil && length < *rule.Params.MinLength {
			return fail(fmt.Sprintf("length %d below minimum %d", length, *rule.Params.MinLength)), nil
		}
		if rule.Params.MaxLength != nil && length > *rule.Params.MaxLength {
			return fail(fmt.Sprintf("length %d above maximum %d", length, *rule.Params.MaxLength)), nil
		}
		return nil, nil

	case domain.RulePattern:
		if isNull {
			return nil, nil
		}
		pattern, ok := state.patterns[rule.ID]
		if !ok {
			var err error
			pattern, err = regexp.Compile(rule.Params.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.Code, err)
			}
			state.patterns[rule.ID] = pattern
		}
		if !pattern.MatchString(transform.ValueKey(value)) {
			return fail(fmt.Sprintf("value does not match pattern %s", rule.Params.Pattern)), nil
		}
		return nil, nil

	case domain.RuleRange:
		if isNull {
			return nil, nil
		}
		number, err := toFloat(value)
		if err != nil {
			return fail("value is not numeric"), nil
		}
		if rule.Params.Min != nil && number < *rule.Params.Min {
			return fail(fmt.Sprintf("value %v below minimum %v", number, *rule.Params.Min)), nil
		}
		if rule.Params.Max != nil && number > *rule.Params.Max {
			return fail(fmt.Sprintf("value %v above maximum %v", number, *rule.Params.Max)), nil
		}
		return nil, nil

	case domain.RuleInList:
		if isNull {
			return nil, nil
		}
		needle := transform.ValueKey(value)
		for _, allowed := range rule.Params.Allowed {
			if needle == allowed {
				return nil, nil
			}
		}
		return fail(fmt.Sprintf("value %q not in allowed set", needle)), nil

	case domain.RuleUnique:
		// Batch-scoped only; the target table is not consulted here.
		// NULLs are exempt, as in SQL; rejecting them is NOT_NULL's job.
		if isNull {
			return nil, nil
		}
		key := transform.ValueKey(value)
		seen, ok := state.seen[rule.ID]
		if !ok {
			seen = make(map[string]struct{})
			state.seen[rule.ID] = seen
		}
		if _, dup := seen[key]; dup {
			return fail(fmt.Sprintf("duplicate value %q within batch", key)), nil
		}
		seen[key] = struct{}{}
		return nil, nil

	case domain.RuleReference:
		if isNull {
			return nil, nil
		}
		key := rule.ID + "\x00" + transform.ValueKey(value)
		exists, ok := state.refs[key]
		if !ok {
			count, err := v.queryCount(ctx, rule.Params.RefTable, rule.Params.RefColumn, value)
			if err != nil {
				return nil, fmt.Errorf("rule %s: reference check: %w", rule.Code, err)
			}
			exists = count > 0
			state.refs[key] = exists
		}
		if !exists {
			return fail(fmt.Sprintf("value %q not found in %s.%s", transform.ValueKey(value), rule.Params.RefTable, rule.Params.RefColumn)), nil
		}
		return nil, nil

	case domain.RuleCustom:
		if v.target == nil {
			return nil, fmt.Errorf("rule %s: CUSTOM requires a target reader", rule.Code)
		}
		check := domain.SubstitutePlaceholders(rule.Params.Check, func(name string) (string, bool) {
			cell, ok := row[name]
			if !ok {
				return "", false
			}
			return transform.SQLLiteral(cell), true
		})
		result, err := v.target.QueryValue(ctx, check)
		if err != nil {
			return nil, fmt.Errorf("rule %s: custom check: %w", rule.Code, err)
		}
		if transform.ValueKey(result) != rule.Params.Expect {
			return fail(fmt.Sprintf("check returned %q, expected %q", transform.ValueKey(result), rule.Params.Expect)), nil
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("rule %s: rule kind is invalid", rule.Code)
	}
}

func (v *Validator) queryCount(ctx context.Context, table, column string, value any) (int64, error) {
	if v.target == nil {
		return 0, fmt.Errorf("target reader is required")
	}
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s = $1", table, column)
	result, err := v.target.QueryValue(ctx, query, value)
	if err != nil {
		return 0, err
	}
	return toInt(result)
}

func toFloat(v any) (float64, error) {
	switch typed := v.(type) {
	case int64:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case float64:
		return typed, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(typed), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(typed)), 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

func toInt(v any) (int64, error) {
	switch typed := v.(type) {
	case int64:
		return typed, nil
	case int:
		return int64(typed), nil
	case float64:
		return int64(typed), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(typed)), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}
