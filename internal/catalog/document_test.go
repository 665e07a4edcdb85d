package catalog

import (
	"strings"
	"testing"

	"github.com/aarelaponin/dwbridge/internal/domain"
)

const taxpayerDoc = `
schema: dwbridge.catalog.v1
system:
  code: tin
  name: Tax Information Network
  connection: tin-l2
  active: true
mappings:
  - code: dim_taxpayer
    source:
      schema: l2
      table: taxpayer
      filter: voided = 0
    target:
      schema: l3
      table: dim_taxpayer
    key_columns: [taxpayer_id]
    load_strategy: incremental
    merge_strategy: upsert
    watermark_column: updated_at
    active: true
    columns:
      - target: taxpayer_id
        source: id
        kind: direct
        key: true
        nullable: false
      - target: tin
        source: tin
        kind: direct
      - target: status_name
        source: status_code
        kind: lookup
        lookups:
          S: Suspended
          A: Active
          "D": Deregistered
    rules:
      - code: tin_not_null
        kind: not_null
        column: tin
        severity: error
      - code: tin_length
        kind: length
        column: tin
        severity: warning
        active: false
        params:
          min_length: 9
          max_length: 9
  - code: fact_return
    source:
      schema: l2
      table: tax_return
    target:
      schema: l3
      table: fact_return
    key_columns: [return_id]
    load_strategy: full
    merge_strategy: insert
    active: true
    depends_on: [dim_taxpayer]
    columns:
      - target: return_id
        source: id
        kind: direct
        key: true
`

func TestCompileDocument(t *testing.T) {
	doc, err := Parse([]byte(taxpayerDoc))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	system, mappings, err := doc.Compile()
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if system.Code != "tin" || system.ConnectionRef != "tin-l2" || !system.Active {
		t.Fatalf("system=%+v", system)
	}
	if len(mappings) != 2 {
		t.Fatalf("mappings=%d, want 2", len(mappings))
	}

	taxpayer := mappings[0]
	if taxpayer.Mapping.LoadStrategy != domain.LoadIncremental {
		t.Errorf("load strategy=%s, want INCREMENTAL", taxpayer.Mapping.LoadStrategy)
	}
	if taxpayer.Mapping.MergeStrategy != domain.MergeUpsert {
		t.Errorf("merge strategy=%s, want UPSERT", taxpayer.Mapping.MergeStrategy)
	}
	if len(taxpayer.Columns) != 3 {
		t.Fatalf("columns=%d, want 3", len(taxpayer.Columns))
	}
	if taxpayer.Columns[0].Nullable {
		t.Error("taxpayer_id should compile as not nullable")
	}
	if !taxpayer.Columns[1].Nullable {
		t.Error("tin should default to nullable")
	}

	lookup := taxpayer.Columns[2]
	if lookup.Kind != domain.TransformLookup || len(lookup.Lookups) != 3 {
		t.Fatalf("lookup column=%+v", lookup)
	}
	// Map-form lookups compile in source-value order.
	if lookup.Lookups[0].SourceValue != "A" || lookup.Lookups[2].SourceValue != "S" {
		t.Errorf("lookup order=%v", lookup.Lookups)
	}

	if !taxpayer.Rules[0].Active {
		t.Error("rule active should default to true")
	}
	if taxpayer.Rules[1].Active {
		t.Error("tin_length is declared inactive")
	}
	if got := *taxpayer.Rules[1].Params.MinLength; got != 9 {
		t.Errorf("min_length=%d, want 9", got)
	}
	if taxpayer.Rules[0].Kind != domain.RuleNotNull || taxpayer.Rules[0].Severity != domain.SeverityError {
		t.Errorf("rule=%+v", taxpayer.Rules[0])
	}

	if len(mappings[1].DependsOn) != 1 || mappings[1].DependsOn[0] != "dim_taxpayer" {
		t.Errorf("depends_on=%v", mappings[1].DependsOn)
	}
}

func TestCompileRejectsUnsupportedSchema(t *testing.T) {
	doc, err := Parse([]byte(strings.Replace(taxpayerDoc, "dwbridge.catalog.v1", "dwbridge.catalog.v2", 1)))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if _, _, err := doc.Compile(); err == nil {
		t.Fatal("Compile() err=nil, want schema error")
	}
}

func TestCompileAggregatesIssues(t *testing.T) {
	bad := `
schema: dwbridge.catalog.v1
system:
  code: ""
  name: Broken
  active: true
mappings:
  - code: dim_a
    source: {table: a}
    target: {table: dim_a}
    key_columns: [missing_key]
    load_strategy: full
    merge_strategy: insert
    active: true
    depends_on: [dim_a]
    columns:
      - {target: x, source: x, kind: direct}
      - {target: x, source: y, kind: direct}
    rules:
      - code: r1
        kind: not_null
        column: nope
        severity: error
  - code: dim_a
    source: {table: b}
    target: {table: dim_b}
    load_strategy: full
    merge_strategy: insert
    active: true
    columns:
      - {target: k, source: k, kind: direct}
`
	doc, err := Parse([]byte(bad))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	_, _, err = doc.Compile()
	if err == nil {
		t.Fatal("Compile() err=nil, want aggregated issues")
	}
	msg := err.Error()
	for _, want := range []string{
		"system code is required",
		`key column "missing_key"`,
		`duplicate target column "x"`,
		`unknown column "nope"`,
		"depends on itself",
		`duplicate mapping code "dim_a"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Compile() error missing %q in:\n%s", want, msg)
		}
	}
}

func TestCompileValidatesCustomCheckPlaceholders(t *testing.T) {
	doc := `
schema: dwbridge.catalog.v1
system: {code: tin, name: TIN, active: true}
mappings:
  - code: fact_return
    source: {table: tax_return}
    target: {table: fact_return}
    load_strategy: full
    merge_strategy: insert
    active: true
    columns:
      - {target: net, source: net, kind: direct}
      - {target: vat, source: vat, kind: direct}
    rules:
      - code: vat_bound
        kind: custom
        severity: error
        params:
          check: SELECT CASE WHEN {vat} <= {net} THEN 1 ELSE 0 END
          expect: "1"
      - code: broken_check
        kind: custom
        severity: error
        params:
          check: SELECT CASE WHEN {vta} >= 0 THEN 1 ELSE 0 END
          expect: "1"
`
	parsed, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	_, _, err = parsed.Compile()
	if err == nil {
		t.Fatal("Compile() err=nil, want unmapped placeholder error")
	}
	if !strings.Contains(err.Error(), `rule broken_check check references unmapped column "vta"`) {
		t.Fatalf("Compile() err=%v", err)
	}
	if strings.Contains(err.Error(), "vat_bound") {
		t.Errorf("well-formed check flagged: %v", err)
	}
}

func TestCompileRejectsEmptyDocument(t *testing.T) {
	doc, err := Parse([]byte("schema: dwbridge.catalog.v1\nsystem: {code: s, name: S, active: true}\n"))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if _, _, err := doc.Compile(); err == nil || !strings.Contains(err.Error(), "no mappings") {
		t.Fatalf("Compile() err=%v, want no-mappings error", err)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("schema: [unterminated")); err == nil {
		t.Fatal("Parse() err=nil, want yaml error")
	}
}
