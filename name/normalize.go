// Package name normalizes party names into the portal's
// "Last, First [Middle...]" search form.
package name

import (
	"strings"
)

// surnamePrefixes are particles that belong to the surname when they
// immediately precede the final token (contiguously).
var surnamePrefixes = map[string]struct{}{
	"van": {}, "von": {}, "de": {}, "der": {}, "da": {},
	"del": {}, "di": {}, "bin": {}, "le": {}, "la": {},
}

// Normalize converts "First [Middle...] Last" or
// "Last, First [Middle...]" into "Last, First [Middle...]".
// Unparseable input returns "". Single tokens pass through unchanged.
// Hyphens inside a token are preserved.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	// a single comma with text on both sides is already in the target
	// form; anything else falls through to the whitespace split
	if idx := strings.Index(s, ","); idx >= 0 && strings.Count(s, ",") == 1 {
		last := strings.TrimSpace(s[:idx])
		given := strings.TrimSpace(s[idx+1:])
		if last != "" && given != "" {
			return last + ", " + given
		}
	}

	tokens := strings.Fields(s)
	if len(tokens) == 1 {
		return tokens[0]
	}

	// the surname is the final token plus any contiguous run of
	// particles directly in front of it
	start := len(tokens) - 1
	for start > 1 {
		if _, ok := surnamePrefixes[strings.ToLower(tokens[start-1])]; !ok {
			break
		}
		start--
	}

	surname := strings.Join(tokens[start:], " ")
	given := strings.Join(tokens[:start], " ")
	return surname + ", " + given
}
