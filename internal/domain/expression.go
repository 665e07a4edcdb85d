package domain

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpressionPlaceholders returns the distinct {column} placeholders of
// an expression body, in first-seen order. The body itself stays opaque
// to the engine; only placeholders are interpreted.
func ExpressionPlaceholders(expr string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(expr, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// SubstitutePlaceholders replaces each {column} placeholder through the
// resolve callback. Unresolved placeholders are left intact so the
// relational engine reports them.
func SubstitutePlaceholders(expr string, resolve func(column string) (string, bool)) string {
	return placeholderPattern.ReplaceAllStringFunc(expr, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := resolve(name); ok {
			return value
		}
		return match
	})
}
