package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

// Importer moves catalog documents in and out of the repository.
type Importer struct {
	catalog repo.CatalogRepository
	logger  *slog.Logger
}

func NewImporter(catalog repo.CatalogRepository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{catalog: catalog, logger: logger}
}

// Import parses, validates and stores one catalog document. Existing
// mappings with matching codes are replaced wholesale.
func (i *Importer) Import(ctx context.Context, data []byte) (ImportSummary, error) {
	doc, err := Parse(data)
	if err != nil {
		return ImportSummary{}, err
	}
	system, mappings, err := doc.Compile()
	if err != nil {
		return ImportSummary{}, err
	}
	if err := i.catalog.ImportSystem(ctx, system, mappings); err != nil {
		return ImportSummary{}, fmt.Errorf("import system %s: %w", system.Code, err)
	}
	summary := ImportSummary{System: system.Code, Mappings: len(mappings)}
	for _, mapping := range mappings {
		summary.Columns += len(mapping.Columns)
		summary.Rules += len(mapping.Rules)
	}
	i.logger.Info("catalog imported",
		"system", summary.System,
		"mappings", summary.Mappings,
		"columns", summary.Columns,
		"rules", summary.Rules)
	return summary, nil
}

type ImportSummary struct {
	System   string
	Mappings int
	Columns  int
	Rules    int
}

// Export renders the stored catalog of one system as a document that
// Import accepts back unchanged in meaning.
func (i *Importer) Export(ctx context.Context, systemCode string) ([]byte, error) {
	system, err := i.catalog.GetSystem(ctx, systemCode)
	if err != nil {
		return nil, fmt.Errorf("export system %s: %w", systemCode, err)
	}
	mappings, err := i.catalog.ListMappings(ctx, repo.MappingFilter{SystemCode: systemCode})
	if err != nil {
		return nil, fmt.Errorf("export system %s: %w", systemCode, err)
	}

	codeByID := make(map[string]string, len(mappings))
	for _, mapping := range mappings {
		codeByID[mapping.ID] = mapping.Code
	}

	doc := Document{
		Schema: SchemaV1,
		System: SystemDoc{
			Code:       system.Code,
			Name:       system.Name,
			Connection: system.ConnectionRef,
			Active:     system.Active,
		},
	}
	for _, mapping := range mappings {
		columns, err := i.catalog.GetColumnMappings(ctx, mapping.ID)
		if err != nil {
			return nil, fmt.Errorf("export mapping %s: %w", mapping.Code, err)
		}
		rules, err := i.catalog.GetRules(ctx, mapping.ID)
		if err != nil {
			return nil, fmt.Errorf("export mapping %s: %w", mapping.Code, err)
		}
		dependsOn, err := i.catalog.GetDependencies(ctx, mapping.ID)
		if err != nil {
			return nil, fmt.Errorf("export mapping %s: %w", mapping.Code, err)
		}
		depCodes := make([]string, 0, len(dependsOn))
		for _, id := range dependsOn {
			if code, ok := codeByID[id]; ok {
				depCodes = append(depCodes, code)
			}
		}
		doc.Mappings = append(doc.Mappings, exportMapping(mapping, columns, rules, depCodes))
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export system %s: %w", systemCode, err)
	}
	return data, nil
}

func exportMapping(mapping domain.TableMapping, columns []domain.ColumnMapping, rules []domain.DataQualityRule, dependsOn []string) MappingDoc {
	doc := MappingDoc{
		Code:            mapping.Code,
		Source:          TableRef{Schema: mapping.SourceSchema, Table: mapping.SourceTable, Filter: mapping.SourceFilter},
		Target:          TableRef{Schema: mapping.TargetSchema, Table: mapping.TargetTable},
		KeyColumns:      mapping.KeyColumns,
		LoadStrategy:    string(mapping.LoadStrategy),
		MergeStrategy:   string(mapping.MergeStrategy),
		WatermarkColumn: mapping.WatermarkColumn,
		Active:          mapping.Active,
		DependsOn:       dependsOn,
	}
	for _, column := range columns {
		columnDoc := ColumnDoc{
			Target:     column.TargetColumn,
			Source:     column.SourceColumn,
			Kind:       string(column.Kind),
			Expression: column.Expression,
			Default:    column.DefaultValue,
			DataType:   column.DataType,
			Key:        column.IsKey,
		}
		if !column.Nullable {
			nullable := false
			columnDoc.Nullable = &nullable
		}
		if len(column.Lookups) > 0 {
			columnDoc.Lookups = column.LookupTable()
		}
		doc.Columns = append(doc.Columns, columnDoc)
	}
	for _, rule := range rules {
		ruleDoc := RuleDoc{
			Code:     rule.Code,
			Kind:     string(rule.Kind),
			Column:   rule.TargetColumn,
			Severity: string(rule.Severity),
			Params: RuleParamsDoc{
				MinLength: rule.Params.MinLength,
				MaxLength: rule.Params.MaxLength,
				Pattern:   rule.Params.Pattern,
				Min:       rule.Params.Min,
				Max:       rule.Params.Max,
				Allowed:   rule.Params.Allowed,
				RefTable:  rule.Params.RefTable,
				RefColumn: rule.Params.RefColumn,
				Check:     rule.Params.Check,
				Expect:    rule.Params.Expect,
			},
		}
		if !rule.Active {
			active := false
			ruleDoc.Active = &active
		}
		doc.Rules = append(doc.Rules, ruleDoc)
	}
	return doc
}
