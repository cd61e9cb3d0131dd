package textutil

import (
	"strings"

	"golang.org/x/text/width"
)

// NormalizeStringMap trims keys and values, dropping entries whose key
// becomes empty. A map with nothing left normalises to nil.
func NormalizeStringMap(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		if key = strings.TrimSpace(key); key != "" {
			result[key] = strings.TrimSpace(value)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// NormalizeCode canonicalises a user-supplied promotion code: full-width
// characters fold to their ASCII equivalents, surrounding whitespace is
// removed, and the result is upper-cased. Returns empty for blank input.
func NormalizeCode(code string) string {
	folded := width.Fold.String(code)
	return strings.ToUpper(strings.TrimSpace(folded))
}
