// Package strings provides string slice helpers for header parsing.
package strings

import (
	"strings"
)

// SplitDedupeTrim splits every value on sep, trims whitespace and drops
// empty and repeated elements. Order of first occurrence is preserved.
//
// Example:
//
//	SplitDedupeTrim([]string{"a, b", " a ", ""}, ",")
//	// Returns: []string{"a", "b"}
func SplitDedupeTrim(values []string, sep string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, sep) {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
