package enhancer

import (
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// DefaultLowQualityTokens disqualify a source when found in its host.
var DefaultLowQualityTokens = []string{"blogspot", "wordpress", "pinterest", "reddit"}

// DefaultBlockedTLDs are never cited.
var DefaultBlockedTLDs = []string{".ru", ".su"}

// SourcePolicy decides which research sources may be cited.
type SourcePolicy struct {
	BlockedTLDs      []string
	LowQualityTokens []string
	Max              int
}

// Allowed reports whether raw is an http(s) URL on an acceptable host.
func (p SourcePolicy) Allowed(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return false
	}
	if forge.HasBlockedTLD(raw, p.BlockedTLDs) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, token := range p.LowQualityTokens {
		if token != "" && strings.Contains(host, token) {
			return false
		}
	}
	return true
}

// Select filters and dedupes sources, orders them newest first (ties broken
// by higher score) and keeps at most Max.
func (p SourcePolicy) Select(sources []forge.SourceCandidate) []forge.SourceCandidate {
	seen := make(map[string]struct{}, len(sources))
	out := make([]forge.SourceCandidate, 0, len(sources))
	for _, src := range sources {
		if !p.Allowed(src.URL) {
			continue
		}
		key := forge.NormalizeURL(src.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		src.URL = strings.TrimSpace(src.URL)
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PublishedAt != out[j].PublishedAt {
			return out[i].PublishedAt > out[j].PublishedAt
		}
		return out[i].Score > out[j].Score
	})
	if p.Max > 0 && len(out) > p.Max {
		out = out[:p.Max]
	}
	return out
}
