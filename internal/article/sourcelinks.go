package article

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// linkPattern matches a markdown link (groups 1 and 2) or a bare URL (group 3).
var linkPattern = regexp.MustCompile(`(?i)\[([^\]]+)\]\((https?://[^\s)]+)\)|(https?://[^\s<>\]]+)`)

var (
	schemePrefix  = regexp.MustCompile(`(?i)^https?://`)
	fileExtension = regexp.MustCompile(`\.[a-zA-Z0-9]+$`)
	hintSplit     = regexp.MustCompile(`[-_]+`)
)

// trailingPunctuation is sentence punctuation that follows a bare URL but is
// not part of it.
const trailingPunctuation = `.,;:!?'"`

var hostLabels = map[string]string{
	"health.harvard.edu": "Harvard Health Publishing",
}

// NormalizeURL is the comparison form of a URL: lowercase host, no fragment,
// no trailing slash on non-root paths. Empty input yields "".
func NormalizeURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return forge.NormalizeURL(raw)
}

// ExtractURLs lists the URLs of markdown links and bare URLs in text order.
func ExtractURLs(text string) []string {
	var out []string
	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		switch {
		case m[2] != "":
			out = append(out, m[2])
		case m[3] != "":
			out = append(out, strings.TrimRight(m[3], trailingPunctuation))
		}
	}
	return out
}

// EnforceSingleHyperlink keeps the first occurrence of every URL as written
// and rewrites later occurrences to plain text: the label for markdown links,
// the scheme-less URL for bare ones. seen carries normalized URLs across
// calls and is updated in place.
func EnforceSingleHyperlink(text string, seen map[string]struct{}) string {
	matches := linkPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(text[last:start])
		last = end

		var label, link, trailing string
		switch {
		case m[4] >= 0:
			label = text[m[2]:m[3]]
			link = text[m[4]:m[5]]
		default:
			bare := text[m[6]:m[7]]
			link = strings.TrimRight(bare, trailingPunctuation)
			trailing = bare[len(link):]
		}
		key := NormalizeURL(link)
		_, dup := seen[key]
		switch {
		case key == "":
			b.WriteString(text[start:end])
		case dup && label != "":
			b.WriteString(label)
		case dup:
			b.WriteString(schemePrefix.ReplaceAllString(link, ""))
			b.WriteString(trailing)
		default:
			seen[key] = struct{}{}
			b.WriteString(text[start:end])
		}
	}
	b.WriteString(text[last:])
	return b.String()
}

// DedupeURLs normalizes urls and drops empties and repeats, keeping order.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := NormalizeURL(u)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// BuildSourceLabel derives a readable label from a URL: the site name plus a
// hint taken from the last path segment.
func BuildSourceLabel(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	title := cases.Title(language.Polish)

	label, ok := hostLabels[host]
	if !ok {
		parts := strings.FieldsFunc(host, func(r rune) bool { return r == '.' })
		switch {
		case len(parts) >= 2:
			label = parts[len(parts)-2]
		case len(parts) == 1:
			label = parts[0]
		default:
			label = raw
		}
		label = title.String(strings.ReplaceAll(label, "-", " "))
	}

	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" {
		return label
	}
	segment = fileExtension.ReplaceAllString(segment, "")
	words := hintSplit.Split(segment, -1)
	hint := make([]string, 0, 8)
	for _, w := range words {
		if w == "" {
			continue
		}
		hint = append(hint, title.String(w))
		if len(hint) == 8 {
			break
		}
	}
	if len(hint) == 0 {
		return label
	}
	return label + " — " + strings.Join(hint, " ")
}
