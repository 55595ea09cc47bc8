package article

import (
	"strings"
	"unicode"
)

// DefaultTitleLimit is the maximum length of SEO titles and headlines.
const DefaultTitleLimit = 60

// TrimTitle collapses s onto a single line and, when it is longer than limit
// characters, cuts it at the last whitespace at or before the limit. Titles
// without such whitespace are cut hard.
func TrimTitle(s string, limit int) string {
	s = normalizeSpace(s)
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			return strings.TrimRightFunc(string(r[:i]), trimTitleTail)
		}
	}
	return string(r[:limit])
}

func trimTitleTail(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-' || r == '–' || r == '—'
}
