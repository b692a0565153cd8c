// Package casenum extracts court case numbers from free text.
//
// Two syntaxes are recognized. The standard form is a two-digit year,
// a 2-4 letter case class and a digit run with an optional dashed
// suffix, e.g. 25CR123456-789. The LexisNexis form carries a leading
// county prefix and a four-digit year, e.g. 7892025CR 123456, and is
// rearranged into the standard form (25CR123456-789).
package casenum

import (
	"regexp"
	"strings"
)

// MaxInputLen caps the text the extractor will scan; anything beyond
// it is ignored.
const MaxInputLen = 50000

var (
	// year, class, digits, optional dashed suffix; whitespace may
	// appear between the class and the digit run
	standardRegexp = regexp.MustCompile(`\b(\d{2})([A-Za-z]{2,4})[ \t]*(\d{3,})(-\d{1,4})?\b`)

	// county prefix, four-digit year, class, whitespace, digits
	lexisRegexp = regexp.MustCompile(`\b(\d{1,3})((?:19|20)\d{2})([A-Za-z]{2,4})[ \t]+(\d{3,})\b`)
)

// Extract returns the ordered, duplicate-free list of canonical case
// numbers found in text. Zero matches yields an empty list, never an
// error.
func Extract(text string) []string {
	if len(text) > MaxInputLen {
		text = text[:MaxInputLen]
	}

	type match struct {
		pos       int
		canonical string
	}
	var matches []match

	// LexisNexis first: its year+class+digits tail would otherwise be
	// picked up (wrongly) by the standard pattern.
	consumed := make([]bool, len(text))
	for _, m := range lexisRegexp.FindAllStringSubmatchIndex(text, -1) {
		county := text[m[2]:m[3]]
		year := text[m[4]:m[5]]
		class := text[m[6]:m[7]]
		digits := text[m[8]:m[9]]
		canonical := strings.ToUpper(year[2:] + class + digits + "-" + county)
		matches = append(matches, match{pos: m[0], canonical: canonical})
		for i := m[0]; i < m[1]; i++ {
			consumed[i] = true
		}
	}

	for _, m := range standardRegexp.FindAllStringSubmatchIndex(text, -1) {
		if consumed[m[0]] {
			continue
		}
		year := text[m[2]:m[3]]
		class := text[m[4]:m[5]]
		digits := text[m[6]:m[7]]
		suffix := ""
		if m[8] >= 0 {
			suffix = text[m[8]:m[9]]
		}
		canonical := strings.ToUpper(year + class + digits + suffix)
		matches = append(matches, match{pos: m[0], canonical: canonical})
	}

	// restore document order across the two passes
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].pos < matches[j-1].pos; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	result := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, dup := seen[m.canonical]; dup {
			continue
		}
		seen[m.canonical] = struct{}{}
		result = append(result, m.canonical)
	}
	return result
}
