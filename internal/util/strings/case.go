// Package strings converts identifiers between the naming conventions used
// by models, SQL columns and JSON:API error codes.
package strings

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts camelCase or CamelCase to snake_case. Acronyms stay
// together: HTTPCode becomes http_code.
func ToSnakeCase(s string) string {
	return delimit(s, '_')
}

// ToKebabCase converts camelCase to kebab-case
func ToKebabCase(s string) string {
	return delimit(s, '-')
}

// LowerFirst lower-cases the first letter of s
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func delimit(s string, sep rune) string {
	var result strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if !unicode.IsUpper(r) {
			result.WriteRune(r)
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsLower(prev), unicode.IsDigit(prev):
				result.WriteRune(sep)
			case i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				// end of an acronym
				result.WriteRune(sep)
			}
		}
		result.WriteRune(unicode.ToLower(r))
	}
	return result.String()
}
