package plan

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aarelaponin/dwbridge/internal/domain"
)

func mapping(id, code string) domain.TableMapping {
	return domain.TableMapping{ID: id, Code: code}
}

func TestBuildLevelsOrdersDependenciesFirst(t *testing.T) {
	mappings := []domain.TableMapping{
		mapping("1", "dim_taxpayer"),
		mapping("2", "fact_return"),
		mapping("3", "dim_period"),
	}
	edges := []domain.Dependency{
		{MappingID: "2", DependsOnID: "1"},
		{MappingID: "2", DependsOnID: "3"},
	}

	levels, err := BuildLevels(mappings, edges)
	if err != nil {
		t.Fatalf("BuildLevels() err=%v", err)
	}
	want := []Level{
		{"dim_period", "dim_taxpayer"},
		{"fact_return"},
	}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("BuildLevels()=%v, want %v", levels, want)
	}
}

func TestBuildLevelsSingleLevelWhenIndependent(t *testing.T) {
	mappings := []domain.TableMapping{
		mapping("1", "a"),
		mapping("2", "b"),
		mapping("3", "c"),
	}
	levels, err := BuildLevels(mappings, nil)
	if err != nil {
		t.Fatalf("BuildLevels() err=%v", err)
	}
	if len(levels) != 1 || len(levels[0]) != 3 {
		t.Fatalf("BuildLevels()=%v, want one level of three", levels)
	}
}

func TestBuildLevelsDetectsCycle(t *testing.T) {
	mappings := []domain.TableMapping{
		mapping("1", "m1"),
		mapping("2", "m2"),
		mapping("3", "standalone"),
	}
	edges := []domain.Dependency{
		{MappingID: "1", DependsOnID: "2"},
		{MappingID: "2", DependsOnID: "1"},
	}

	_, err := BuildLevels(mappings, edges)
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("BuildLevels() err=%v, want CycleError", err)
	}
	if !reflect.DeepEqual(cycle.Codes, []string{"m1", "m2"}) {
		t.Fatalf("cycle codes=%v, want [m1 m2]", cycle.Codes)
	}
}

func TestBuildLevelsIgnoresEdgesOutsideSet(t *testing.T) {
	mappings := []domain.TableMapping{mapping("1", "a")}
	edges := []domain.Dependency{{MappingID: "1", DependsOnID: "external"}}

	levels, err := BuildLevels(mappings, edges)
	if err != nil {
		t.Fatalf("BuildLevels() err=%v", err)
	}
	if len(levels) != 1 || levels[0][0] != "a" {
		t.Fatalf("BuildLevels()=%v, want [[a]]", levels)
	}
}

func TestFlattenAndPosition(t *testing.T) {
	levels := []Level{{"a", "b"}, {"c"}}
	if got := Flatten(levels); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Flatten()=%v", got)
	}
	pos := Position(levels)
	if pos["a"] != 0 || pos["b"] != 0 || pos["c"] != 1 {
		t.Fatalf("Position()=%v", pos)
	}
}

func TestValidateRejectsUnknownEdge(t *testing.T) {
	err := Validate([]domain.TableMapping{mapping("1", "a")}, []domain.Dependency{{MappingID: "ghost", DependsOnID: "1"}})
	if err == nil {
		t.Fatal("Validate() err=nil, want error")
	}
}
