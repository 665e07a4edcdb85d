package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceSystem is one external transactional system. Created by
// configuration import, read-only at runtime.
type SourceSystem struct {
	ID            string
	Code          string
	Name          string
	ConnectionRef string
	Active        bool
	CreatedAt     time.Time
}

// TableMapping binds one source table to one target table. The pipeline
// never mutates a mapping; the catalog importer owns its lifecycle.
type TableMapping struct {
	ID              string
	SystemID        string
	Code            string
	SourceSchema    string
	SourceTable     string
	SourceFilter    string
	TargetSchema    string
	TargetTable     string
	KeyColumns      []string
	LoadStrategy    LoadStrategy
	MergeStrategy   MergeStrategy
	WatermarkColumn string
	WatermarkValue  string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ColumnMapping describes one target column of a TableMapping.
// SourceColumn is empty only for CONSTANT columns.
type ColumnMapping struct {
	ID           string
	MappingID    string
	Position     int
	TargetColumn string
	SourceColumn string
	Kind         TransformKind
	Expression   string
	DefaultValue string
	DataType     string
	Nullable     bool
	IsKey        bool
	Lookups      []LookupEntry
}

// LookupEntry maps one source value to one target value within a
// LOOKUP column. Source values are unique per column.
type LookupEntry struct {
	SourceValue string
	TargetValue string
}

// Dependency is a directed edge: Mapping depends on DependsOn.
type Dependency struct {
	MappingID   string
	DependsOnID string
}

func (s SourceSystem) Validate() error {
	if strings.TrimSpace(s.Code) == "" {
		return errors.New("source system code is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("source system name is required")
	}
	return nil
}

func (m TableMapping) Validate() error {
	if strings.TrimSpace(m.Code) == "" {
		return errors.New("mapping code is required")
	}
	if strings.TrimSpace(m.SourceTable) == "" {
		return errors.New("source table is required")
	}
	if strings.TrimSpace(m.TargetTable) == "" {
		return errors.New("target table is required")
	}
	if m.LoadStrategy == "" {
		return fmt.Errorf("mapping %s: load strategy is invalid", m.Code)
	}
	if m.MergeStrategy == "" {
		return fmt.Errorf("mapping %s: merge strategy is invalid", m.Code)
	}
	if m.LoadStrategy == LoadIncremental && strings.TrimSpace(m.WatermarkColumn) == "" {
		return fmt.Errorf("mapping %s: incremental load requires a watermark column", m.Code)
	}
	if (m.MergeStrategy == MergeUpdate || m.MergeStrategy == MergeUpsert) && len(m.KeyColumns) == 0 {
		return fmt.Errorf("mapping %s: merge strategy %s requires key columns", m.Code, m.MergeStrategy)
	}
	return nil
}

// SourceRef returns the schema-qualified source table name.
func (m TableMapping) SourceRef() string {
	return qualify(m.SourceSchema, m.SourceTable)
}

// TargetRef returns the schema-qualified target table name.
func (m TableMapping) TargetRef() string {
	return qualify(m.TargetSchema, m.TargetTable)
}

// StagingRef returns the mapping-private staging table name.
func (m TableMapping) StagingRef() string {
	return qualify(m.TargetSchema, "stg_"+m.TargetTable)
}

func qualify(schema, table string) string {
	schema = strings.TrimSpace(schema)
	table = strings.TrimSpace(table)
	if schema == "" {
		return table
	}
	return schema + "." + table
}

func (c ColumnMapping) Validate() error {
	if strings.TrimSpace(c.TargetColumn) == "" {
		return errors.New("target column is required")
	}
	switch c.Kind {
	case TransformDirect:
		if strings.TrimSpace(c.SourceColumn) == "" {
			return fmt.Errorf("column %s: DIRECT requires a source column", c.TargetColumn)
		}
	case TransformExpression:
		if strings.TrimSpace(c.Expression) == "" {
			return fmt.Errorf("column %s: EXPRESSION requires an expression body", c.TargetColumn)
		}
	case TransformLookup:
		if strings.TrimSpace(c.SourceColumn) == "" {
			return fmt.Errorf("column %s: LOOKUP requires a source column", c.TargetColumn)
		}
		if len(c.Lookups) == 0 {
			return fmt.Errorf("column %s: LOOKUP requires at least one lookup entry", c.TargetColumn)
		}
		seen := make(map[string]struct{}, len(c.Lookups))
		for _, entry := range c.Lookups {
			if _, ok := seen[entry.SourceValue]; ok {
				return fmt.Errorf("column %s: duplicate lookup source value %q", c.TargetColumn, entry.SourceValue)
			}
			seen[entry.SourceValue] = struct{}{}
		}
	case TransformConstant:
		if strings.TrimSpace(c.SourceColumn) != "" {
			return fmt.Errorf("column %s: CONSTANT must not name a source column", c.TargetColumn)
		}
		if c.DefaultValue == "" {
			return fmt.Errorf("column %s: CONSTANT requires a default value", c.TargetColumn)
		}
	default:
		return fmt.Errorf("column %s: transformation kind is invalid", c.TargetColumn)
	}
	return nil
}

// LookupTable returns the column's lookup entries as a map.
func (c ColumnMapping) LookupTable() map[string]string {
	out := make(map[string]string, len(c.Lookups))
	for _, entry := range c.Lookups {
		out[entry.SourceValue] = entry.TargetValue
	}
	return out
}
