// Package plan orders table mappings so every mapping runs after the
// mappings it depends on. Ordering is resolved once per batch, before
// any extraction starts.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aarelaponin/dwbridge/internal/domain"
)

// Level is a set of mapping codes with no dependency edges among them;
// its members may run in any order relative to each other.
type Level []string

// CycleError reports a dependency cycle. A cycle is always fatal to the
// whole batch.
type CycleError struct {
	Codes []string
}

func (e *CycleError) Error() string {
	return "cyclic dependency between mappings: " + strings.Join(e.Codes, ", ")
}

// BuildLevels runs Kahn's algorithm over the given mappings and their
// dependency edges, grouping each iteration's zero-in-degree removals
// into one level. Edges pointing at mappings outside the set are
// ignored; those dependencies are assumed already satisfied.
func BuildLevels(mappings []domain.TableMapping, edges []domain.Dependency) ([]Level, error) {
	codeByID := make(map[string]string, len(mappings))
	for _, mapping := range mappings {
		codeByID[mapping.ID] = mapping.Code
	}

	inDegree := make(map[string]int, len(mappings))
	dependents := make(map[string][]string, len(mappings))
	for _, mapping := range mappings {
		inDegree[mapping.ID] = 0
	}
	for _, edge := range edges {
		if _, ok := inDegree[edge.MappingID]; !ok {
			continue
		}
		if _, ok := inDegree[edge.DependsOnID]; !ok {
			continue
		}
		dependents[edge.DependsOnID] = append(dependents[edge.DependsOnID], edge.MappingID)
		inDegree[edge.MappingID]++
	}

	ready := make([]string, 0, len(mappings))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	levels := make([]Level, 0)
	resolved := 0
	for len(ready) > 0 {
		level := make(Level, 0, len(ready))
		for _, id := range ready {
			level = append(level, codeByID[id])
		}
		sort.Strings(level)
		levels = append(levels, level)
		resolved += len(ready)

		next := make([]string, 0)
		for _, id := range ready {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if resolved != len(mappings) {
		remaining := make([]string, 0, len(mappings)-resolved)
		for id, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, codeByID[id])
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Codes: remaining}
	}
	return levels, nil
}

// Flatten returns the levels as one total order.
func Flatten(levels []Level) []string {
	out := make([]string, 0)
	for _, level := range levels {
		out = append(out, level...)
	}
	return out
}

// Position returns a lookup of mapping code to level index, used by the
// orchestrator to skip mappings whose dependency failed.
func Position(levels []Level) map[string]int {
	out := make(map[string]int)
	for i, level := range levels {
		for _, code := range level {
			out[code] = i
		}
	}
	return out
}

// Validate checks that every edge references a known mapping id.
func Validate(mappings []domain.TableMapping, edges []domain.Dependency) error {
	known := make(map[string]struct{}, len(mappings))
	for _, mapping := range mappings {
		known[mapping.ID] = struct{}{}
	}
	for _, edge := range edges {
		if _, ok := known[edge.MappingID]; !ok {
			return fmt.Errorf("dependency edge from unknown mapping id %q", edge.MappingID)
		}
	}
	return nil
}
