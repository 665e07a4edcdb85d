// Package catalog imports and exports mapping configuration as YAML
// documents. Import replaces a system's catalog entries atomically;
// export renders the stored catalog back into an equivalent document.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

// SchemaV1 identifies the supported catalog document schema.
const SchemaV1 = "dwbridge.catalog.v1"

type Document struct {
	Schema   string       `yaml:"schema"`
	System   SystemDoc    `yaml:"system"`
	Mappings []MappingDoc `yaml:"mappings"`
}

type SystemDoc struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Connection string `yaml:"connection,omitempty"`
	Active     bool   `yaml:"active"`
}

type TableRef struct {
	Schema string `yaml:"schema,omitempty"`
	Table  string `yaml:"table"`
	Filter string `yaml:"filter,omitempty"`
}

type MappingDoc struct {
	Code            string      `yaml:"code"`
	Source          TableRef    `yaml:"source"`
	Target          TableRef    `yaml:"target"`
	KeyColumns      []string    `yaml:"key_columns,omitempty"`
	LoadStrategy    string      `yaml:"load_strategy"`
	MergeStrategy   string      `yaml:"merge_strategy"`
	WatermarkColumn string      `yaml:"watermark_column,omitempty"`
	Active          bool        `yaml:"active"`
	DependsOn       []string    `yaml:"depends_on,omitempty"`
	Columns         []ColumnDoc `yaml:"columns"`
	Rules           []RuleDoc   `yaml:"rules,omitempty"`
}

type ColumnDoc struct {
	Target     string            `yaml:"target"`
	Source     string            `yaml:"source,omitempty"`
	Kind       string            `yaml:"kind"`
	Expression string            `yaml:"expression,omitempty"`
	Default    string            `yaml:"default,omitempty"`
	DataType   string            `yaml:"data_type,omitempty"`
	Nullable   *bool             `yaml:"nullable,omitempty"`
	Key        bool              `yaml:"key,omitempty"`
	Lookups    map[string]string `yaml:"lookups,omitempty"`
}

type RuleDoc struct {
	Code     string        `yaml:"code"`
	Kind     string        `yaml:"kind"`
	Column   string        `yaml:"column,omitempty"`
	Severity string        `yaml:"severity"`
	Active   *bool         `yaml:"active,omitempty"`
	Params   RuleParamsDoc `yaml:"params,omitempty"`
}

type RuleParamsDoc struct {
	MinLength *int     `yaml:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	Allowed   []string `yaml:"allowed,omitempty"`
	RefTable  string   `yaml:"ref_table,omitempty"`
	RefColumn string   `yaml:"ref_column,omitempty"`
	Check     string   `yaml:"check,omitempty"`
	Expect    string   `yaml:"expect,omitempty"`
}

// Parse decodes one catalog document without validating it; call
// Compile for the checked conversion into catalog entities.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse catalog document: %w", err)
	}
	return doc, nil
}

// Compile validates the document and converts it into the system plus
// its importable mappings. All issues are reported at once.
func (d Document) Compile() (domain.SourceSystem, []repo.ImportedMapping, error) {
	var issues []error
	if d.Schema != SchemaV1 {
		issues = append(issues, fmt.Errorf("unsupported schema %q, want %q", d.Schema, SchemaV1))
	}
	system := domain.SourceSystem{
		Code:          strings.TrimSpace(d.System.Code),
		Name:          strings.TrimSpace(d.System.Name),
		ConnectionRef: strings.TrimSpace(d.System.Connection),
		Active:        d.System.Active,
	}
	if err := system.Validate(); err != nil {
		issues = append(issues, err)
	}
	if len(d.Mappings) == 0 {
		issues = append(issues, errors.New("document declares no mappings"))
	}

	codes := make(map[string]struct{}, len(d.Mappings))
	imported := make([]repo.ImportedMapping, 0, len(d.Mappings))
	for i, mappingDoc := range d.Mappings {
		entry, errs := mappingDoc.compile()
		for _, err := range errs {
			issues = append(issues, fmt.Errorf("mappings[%d]: %w", i, err))
		}
		if _, dup := codes[entry.Mapping.Code]; dup && entry.Mapping.Code != "" {
			issues = append(issues, fmt.Errorf("mappings[%d]: duplicate mapping code %q", i, entry.Mapping.Code))
		}
		codes[entry.Mapping.Code] = struct{}{}
		imported = append(imported, entry)
	}
	for i, mappingDoc := range d.Mappings {
		for _, dep := range mappingDoc.DependsOn {
			if dep == mappingDoc.Code {
				issues = append(issues, fmt.Errorf("mappings[%d]: mapping %s depends on itself", i, dep))
			}
		}
	}
	if err := errors.Join(issues...); err != nil {
		return domain.SourceSystem{}, nil, err
	}
	return system, imported, nil
}

func (m MappingDoc) compile() (repo.ImportedMapping, []error) {
	var errs []error
	mapping := domain.TableMapping{
		Code:            strings.TrimSpace(m.Code),
		SourceSchema:    m.Source.Schema,
		SourceTable:     m.Source.Table,
		SourceFilter:    m.Source.Filter,
		TargetSchema:    m.Target.Schema,
		TargetTable:     m.Target.Table,
		KeyColumns:      m.KeyColumns,
		LoadStrategy:    domain.NormalizeLoadStrategy(m.LoadStrategy),
		MergeStrategy:   domain.NormalizeMergeStrategy(m.MergeStrategy),
		WatermarkColumn: m.WatermarkColumn,
		Active:          m.Active,
	}
	if err := mapping.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(m.Columns) == 0 {
		errs = append(errs, fmt.Errorf("mapping %s: no columns", m.Code))
	}
	targets := make(map[string]struct{}, len(m.Columns))
	columns := make([]domain.ColumnMapping, 0, len(m.Columns))
	for i, columnDoc := range m.Columns {
		column := columnDoc.compile(i)
		if err := column.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mapping %s: %w", m.Code, err))
		}
		if _, dup := targets[column.TargetColumn]; dup {
			errs = append(errs, fmt.Errorf("mapping %s: duplicate target column %q", m.Code, column.TargetColumn))
		}
		targets[column.TargetColumn] = struct{}{}
		columns = append(columns, column)
	}
	for _, key := range m.KeyColumns {
		if _, ok := targets[key]; !ok {
			errs = append(errs, fmt.Errorf("mapping %s: key column %q is not a mapped target column", m.Code, key))
		}
	}

	rules := make([]domain.DataQualityRule, 0, len(m.Rules))
	for _, ruleDoc := range m.Rules {
		rule := ruleDoc.compile()
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mapping %s: %w", m.Code, err))
		}
		if rule.TargetColumn != "" {
			if _, ok := targets[rule.TargetColumn]; !ok {
				errs = append(errs, fmt.Errorf("mapping %s: rule %s names unknown column %q", m.Code, rule.Code, rule.TargetColumn))
			}
		}
		// CUSTOM check placeholders resolve against transformed rows,
		// so every one of them must be a mapped target column. A typo
		// here would otherwise only surface per row at run time.
		if rule.Kind == domain.RuleCustom {
			for _, name := range domain.ExpressionPlaceholders(rule.Params.Check) {
				if _, ok := targets[name]; !ok {
					errs = append(errs, fmt.Errorf("mapping %s: rule %s check references unmapped column %q", m.Code, rule.Code, name))
				}
			}
		}
		rules = append(rules, rule)
	}

	return repo.ImportedMapping{
		Mapping:   mapping,
		Columns:   columns,
		Rules:     rules,
		DependsOn: m.DependsOn,
	}, errs
}

func (c ColumnDoc) compile(position int) domain.ColumnMapping {
	nullable := true
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	lookups := make([]domain.LookupEntry, 0, len(c.Lookups))
	for _, source := range sortedKeys(c.Lookups) {
		lookups = append(lookups, domain.LookupEntry{SourceValue: source, TargetValue: c.Lookups[source]})
	}
	return domain.ColumnMapping{
		Position:     position,
		TargetColumn: strings.TrimSpace(c.Target),
		SourceColumn: strings.TrimSpace(c.Source),
		Kind:         domain.NormalizeTransformKind(c.Kind),
		Expression:   c.Expression,
		DefaultValue: c.Default,
		DataType:     c.DataType,
		Nullable:     nullable,
		IsKey:        c.Key,
		Lookups:      lookups,
	}
}

func (r RuleDoc) compile() domain.DataQualityRule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return domain.DataQualityRule{
		Code:         strings.TrimSpace(r.Code),
		Kind:         domain.NormalizeRuleKind(r.Kind),
		TargetColumn: strings.TrimSpace(r.Column),
		Severity:     domain.NormalizeSeverity(r.Severity),
		Active:       active,
		Params: domain.RuleParams{
			MinLength: r.Params.MinLength,
			MaxLength: r.Params.MaxLength,
			Pattern:   r.Params.Pattern,
			Min:       r.Params.Min,
			Max:       r.Params.Max,
			Allowed:   r.Params.Allowed,
			RefTable:  r.Params.RefTable,
			RefColumn: r.Params.RefColumn,
			Check:     r.Params.Check,
			Expect:    r.Params.Expect,
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
