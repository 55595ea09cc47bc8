package article

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLength = 200
	// DefaultSlug is used when nothing sluggable is left.
	DefaultSlug = "artykul"
)

var (
	// ł and ż/ź either do not decompose or should map explicitly.
	polishLetters = strings.NewReplacer(
		"ą", "a", "ć", "c", "ę", "e", "ł", "l", "ń", "n",
		"ó", "o", "ś", "s", "ż", "z", "ź", "z",
	)
	nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify lowercases s, transliterates Polish letters and strips remaining
// diacritics, then joins alphanumeric runs with hyphens. The result is at
// most 200 characters and may be empty.
func Slugify(s string) string {
	s = polishLetters.Replace(strings.ToLower(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	s = strings.Trim(nonSlugRun.ReplaceAllString(s, "-"), "-")
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "-")
	}
	return s
}

// UniqueSlug returns desired, or desired with the lowest "-N" suffix (N ≥ 2)
// not present in existing.
func UniqueSlug(existing []string, desired string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		taken[s] = struct{}{}
	}
	if _, ok := taken[desired]; !ok {
		return desired
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf("-%d", n)
		base := desired
		if len(base)+len(suffix) > maxSlugLength {
			base = strings.TrimRight(base[:maxSlugLength-len(suffix)], "-")
		}
		candidate := base + suffix
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
