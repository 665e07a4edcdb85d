// Package reconcile runs post-load consistency checks between the
// transactional and analytical stores and records the outcome as
// findings.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaV1 identifies the supported check document schema.
const SchemaV1 = "dwbridge.reconcile.v1"

// Document is a declarative set of reconciliation checks for one
// source system.
type Document struct {
	Schema        string              `yaml:"schema"`
	System        string              `yaml:"system"`
	RowCounts     []RowCountCheck     `yaml:"row_counts"`
	ForeignKeys   []ForeignKeyCheck   `yaml:"foreign_keys"`
	BusinessRules []BusinessRuleCheck `yaml:"business_rules"`
}

// RowCountCheck compares source and target row counts for one mapping.
// ExpectedRatio is target/source; it defaults to 1.
type RowCountCheck struct {
	Mapping       string  `yaml:"mapping"`
	ExpectedRatio float64 `yaml:"expected_ratio"`
	Tolerance     float64 `yaml:"tolerance"`
}

// ForeignKeyCheck counts target rows whose Column has no counterpart in
// RefTable.RefColumn. UnresolvedKey names a sentinel value that is
// exempt from the check, typically the fallback member of a dimension.
type ForeignKeyCheck struct {
	Table         string `yaml:"table"`
	Column        string `yaml:"column"`
	RefTable      string `yaml:"ref_table"`
	RefColumn     string `yaml:"ref_column"`
	UnresolvedKey string `yaml:"unresolved_key"`
}

// BusinessRuleCheck runs Query against the target and compares the
// single result value with Expect.
type BusinessRuleCheck struct {
	Name   string `yaml:"name"`
	Query  string `yaml:"query"`
	Expect string `yaml:"expect"`
}

// Parse decodes and validates one check document. Missing expected
// ratios default to 1.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse reconcile document: %w", err)
	}
	for i := range doc.RowCounts {
		if doc.RowCounts[i].ExpectedRatio == 0 {
			doc.RowCounts[i].ExpectedRatio = 1
		}
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d Document) Validate() error {
	var issues []error
	if d.Schema != SchemaV1 {
		issues = append(issues, fmt.Errorf("unsupported schema %q, want %q", d.Schema, SchemaV1))
	}
	if strings.TrimSpace(d.System) == "" {
		issues = append(issues, errors.New("system is required"))
	}
	if len(d.RowCounts)+len(d.ForeignKeys)+len(d.BusinessRules) == 0 {
		issues = append(issues, errors.New("document declares no checks"))
	}
	for i, check := range d.RowCounts {
		if strings.TrimSpace(check.Mapping) == "" {
			issues = append(issues, fmt.Errorf("row_counts[%d]: mapping is required", i))
		}
		if check.ExpectedRatio <= 0 {
			issues = append(issues, fmt.Errorf("row_counts[%d]: expected_ratio must be positive", i))
		}
		if check.Tolerance < 0 {
			issues = append(issues, fmt.Errorf("row_counts[%d]: tolerance must not be negative", i))
		}
	}
	for i, check := range d.ForeignKeys {
		for _, field := range []struct{ name, value string }{
			{"table", check.Table},
			{"column", check.Column},
			{"ref_table", check.RefTable},
			{"ref_column", check.RefColumn},
		} {
			if strings.TrimSpace(field.value) == "" {
				issues = append(issues, fmt.Errorf("foreign_keys[%d]: %s is required", i, field.name))
			}
		}
	}
	for i, check := range d.BusinessRules {
		if strings.TrimSpace(check.Name) == "" {
			issues = append(issues, fmt.Errorf("business_rules[%d]: name is required", i))
		}
		if strings.TrimSpace(check.Query) == "" {
			issues = append(issues, fmt.Errorf("business_rules[%d]: query is required", i))
		}
	}
	return errors.Join(issues...)
}
