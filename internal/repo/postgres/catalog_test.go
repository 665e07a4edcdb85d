package postgres

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("Bootstrap() err=%v", err)
	}
	return db
}

func tinSystem() domain.SourceSystem {
	return domain.SourceSystem{Code: "tin", Name: "Tax Information Network", Active: true}
}

func tinMappings() []repo.ImportedMapping {
	minLen := 9
	return []repo.ImportedMapping{
		{
			Mapping: domain.TableMapping{
				Code:            "dim_taxpayer",
				SourceSchema:    "l2",
				SourceTable:     "taxpayer",
				TargetSchema:    "l3",
				TargetTable:     "dim_taxpayer",
				KeyColumns:      []string{"taxpayer_id"},
				LoadStrategy:    domain.LoadIncremental,
				MergeStrategy:   domain.MergeUpsert,
				WatermarkColumn: "updated_at",
				Active:          true,
			},
			Columns: []domain.ColumnMapping{
				{TargetColumn: "taxpayer_id", SourceColumn: "id", Kind: domain.TransformDirect, Nullable: false, IsKey: true},
				{TargetColumn: "tin", SourceColumn: "tin", Kind: domain.TransformDirect, Nullable: false},
				{TargetColumn: "status_name", SourceColumn: "status", Kind: domain.TransformLookup,
					Lookups: []domain.LookupEntry{
						{SourceValue: "A", TargetValue: "Active"},
						{SourceValue: "S", TargetValue: "Suspended"},
					}},
			},
			Rules: []domain.DataQualityRule{
				{Code: "tin_not_null", Kind: domain.RuleNotNull, TargetColumn: "tin", Severity: domain.SeverityError, Active: true},
				{Code: "tin_length", Kind: domain.RuleLength, TargetColumn: "tin", Severity: domain.SeverityWarning, Active: true,
					Params: domain.RuleParams{MinLength: &minLen}},
			},
		},
		{
			Mapping: domain.TableMapping{
				Code:          "fact_return",
				SourceTable:   "tax_return",
				TargetTable:   "fact_return",
				KeyColumns:    []string{"return_id"},
				LoadStrategy:  domain.LoadFull,
				MergeStrategy: domain.MergeUpsert,
				Active:        true,
			},
			Columns: []domain.ColumnMapping{
				{TargetColumn: "return_id", SourceColumn: "id", Kind: domain.TransformDirect, Nullable: false, IsKey: true},
			},
			DependsOn: []string{"dim_taxpayer"},
		},
	}
}

func TestImportSystemRoundTrip(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	if err := store.ImportSystem(ctx, tinSystem(), tinMappings()); err != nil {
		t.Fatalf("ImportSystem() err=%v", err)
	}

	system, err := store.GetSystem(ctx, "tin")
	if err != nil {
		t.Fatalf("GetSystem() err=%v", err)
	}
	if system.Name != "Tax Information Network" || !system.Active {
		t.Fatalf("GetSystem()=%+v", system)
	}

	mapping, err := store.GetMapping(ctx, "dim_taxpayer")
	if err != nil {
		t.Fatalf("GetMapping() err=%v", err)
	}
	if mapping.LoadStrategy != domain.LoadIncremental || mapping.WatermarkColumn != "updated_at" {
		t.Fatalf("GetMapping()=%+v", mapping)
	}
	if !reflect.DeepEqual(mapping.KeyColumns, []string{"taxpayer_id"}) {
		t.Fatalf("KeyColumns=%v", mapping.KeyColumns)
	}

	columns, err := store.GetColumnMappings(ctx, mapping.ID)
	if err != nil {
		t.Fatalf("GetColumnMappings() err=%v", err)
	}
	if len(columns) != 3 {
		t.Fatalf("columns=%d, want 3", len(columns))
	}
	if columns[0].TargetColumn != "taxpayer_id" || columns[2].Kind != domain.TransformLookup {
		t.Fatalf("columns=%+v", columns)
	}
	if len(columns[2].Lookups) != 2 {
		t.Fatalf("lookups=%+v, want 2 entries", columns[2].Lookups)
	}

	rules, err := store.GetRules(ctx, mapping.ID)
	if err != nil {
		t.Fatalf("GetRules() err=%v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules=%d, want 2", len(rules))
	}
	var lengthRule domain.DataQualityRule
	for _, r := range rules {
		if r.Kind == domain.RuleLength {
			lengthRule = r
		}
	}
	if lengthRule.Params.MinLength == nil || *lengthRule.Params.MinLength != 9 {
		t.Fatalf("length rule params=%+v", lengthRule.Params)
	}

	fact, err := store.GetMapping(ctx, "fact_return")
	if err != nil {
		t.Fatalf("GetMapping(fact_return) err=%v", err)
	}
	deps, err := store.GetDependencies(ctx, fact.ID)
	if err != nil {
		t.Fatalf("GetDependencies() err=%v", err)
	}
	if len(deps) != 1 || deps[0] != mapping.ID {
		t.Fatalf("deps=%v, want [%s]", deps, mapping.ID)
	}
}

func TestImportSystemReplacesMappingChildren(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	if err := store.ImportSystem(ctx, tinSystem(), tinMappings()); err != nil {
		t.Fatalf("first import err=%v", err)
	}

	second := tinMappings()
	second[0].Columns = second[0].Columns[:2]
	second[0].Rules = nil
	if err := store.ImportSystem(ctx, tinSystem(), second); err != nil {
		t.Fatalf("second import err=%v", err)
	}

	mapping, err := store.GetMapping(ctx, "dim_taxpayer")
	if err != nil {
		t.Fatalf("GetMapping() err=%v", err)
	}
	columns, err := store.GetColumnMappings(ctx, mapping.ID)
	if err != nil {
		t.Fatalf("GetColumnMappings() err=%v", err)
	}
	if len(columns) != 2 {
		t.Fatalf("columns after reimport=%d, want 2", len(columns))
	}
	rules, err := store.GetRules(ctx, mapping.ID)
	if err != nil {
		t.Fatalf("GetRules() err=%v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("rules after reimport=%d, want 0", len(rules))
	}
}

func TestImportSystemUnknownDependencyFails(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	mappings := tinMappings()
	mappings[1].DependsOn = []string{"no_such_mapping"}

	err := store.ImportSystem(context.Background(), tinSystem(), mappings)
	if err == nil {
		t.Fatal("ImportSystem() err=nil, want unknown dependency error")
	}
}

func TestListMappingsFiltersBySystemAndActive(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	mappings := tinMappings()
	mappings[1].Mapping.Active = false
	if err := store.ImportSystem(ctx, tinSystem(), mappings); err != nil {
		t.Fatalf("ImportSystem() err=%v", err)
	}

	all, err := store.ListMappings(ctx, repo.MappingFilter{SystemCode: "tin"})
	if err != nil {
		t.Fatalf("ListMappings() err=%v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all mappings=%d, want 2", len(all))
	}

	active, err := store.ListMappings(ctx, repo.MappingFilter{SystemCode: "tin", ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListMappings(active) err=%v", err)
	}
	if len(active) != 1 || active[0].Code != "dim_taxpayer" {
		t.Fatalf("active mappings=%+v", active)
	}
}

func TestAdvanceWatermark(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	if err := store.ImportSystem(ctx, tinSystem(), tinMappings()); err != nil {
		t.Fatalf("ImportSystem() err=%v", err)
	}
	mapping, err := store.GetMapping(ctx, "dim_taxpayer")
	if err != nil {
		t.Fatalf("GetMapping() err=%v", err)
	}

	if err := store.AdvanceWatermark(ctx, mapping.ID, "2026-02-01T00:00:00Z"); err != nil {
		t.Fatalf("AdvanceWatermark() err=%v", err)
	}
	reread, err := store.GetMapping(ctx, "dim_taxpayer")
	if err != nil {
		t.Fatalf("GetMapping() err=%v", err)
	}
	if reread.WatermarkValue != "2026-02-01T00:00:00Z" {
		t.Fatalf("WatermarkValue=%q", reread.WatermarkValue)
	}

	if err := store.AdvanceWatermark(ctx, "no-such-id", "x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("AdvanceWatermark(unknown) err=%v, want ErrNotFound", err)
	}
}

func TestGetSystemNotFound(t *testing.T) {
	store := NewCatalogStore(openTestDB(t))
	if _, err := store.GetSystem(context.Background(), "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("GetSystem(ghost) err=%v, want ErrNotFound", err)
	}
}
