package article

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const (
	// RecommendationsTitle titles the injected internal-links section.
	RecommendationsTitle = "Przeczytaj również"

	recommendationsHeader = "Przeczytaj również:"
	recommendationsFiller = "Pozostań z nami — te rekomendacje rozwijają wątki z artykułu i prowadzą do kolejnych historii."
	emptyRecommendations  = "- Więcej artykułów znajdziesz w naszej bibliotece joga.yoga, pełnej praktycznych inspiracji."
	emptyFiller           = "Pozostań z nami — te rekomendacje rozwijają wątki z artykułu."
)

// recommendationTitles are section titles replaced by the internal-links block.
var recommendationTitles = map[string]struct{}{
	"źródła":             {},
	"zrodla":             {},
	"przeczytaj również": {},
	"przeczytaj rowniez": {},
}

// LinkConfig bounds internal-link selection and rendering.
type LinkConfig struct {
	MinSameSection   int `mapstructure:"min_same_section"`
	MaxSameSection   int `mapstructure:"max_same_section"`
	Total            int `mapstructure:"total"`
	PreviewLength    int `mapstructure:"preview_length"`
	MinChars         int `mapstructure:"min_chars"`
	SameSectionPool  int `mapstructure:"same_section_pool"`
	CrossSectionPool int `mapstructure:"cross_section_pool"`
}

// DefaultLinkConfig returns the standard thresholds.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		MinSameSection:   2,
		MaxSameSection:   3,
		Total:            4,
		PreviewLength:    210,
		MinChars:         420,
		SameSectionPool:  8,
		CrossSectionPool: 4,
	}
}

func (c LinkConfig) withDefaults() LinkConfig {
	d := DefaultLinkConfig()
	if c.MinSameSection <= 0 {
		c.MinSameSection = d.MinSameSection
	}
	if c.MaxSameSection <= 0 {
		c.MaxSameSection = d.MaxSameSection
	}
	if c.Total <= 0 {
		c.Total = d.Total
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = d.PreviewLength
	}
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.SameSectionPool <= 0 {
		c.SameSectionPool = d.SameSectionPool
	}
	if c.CrossSectionPool <= 0 {
		c.CrossSectionPool = d.CrossSectionPool
	}
	return c
}

// Corpus lists previously published posts. ListSectionPosts returns the
// newest first; ListOtherSectionPosts returns a random sample.
type Corpus interface {
	ListSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error)
	ListOtherSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error)
}

// Recommendation is one internal link.
type Recommendation struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Section string `json:"section"`
	URL     string `json:"url"`
	Preview string `json:"preview"`
}

// Recommend loads both candidate pools concurrently and selects from them.
func Recommend(ctx context.Context, corpus Corpus, cfg LinkConfig, currentSlug, section string) ([]Recommendation, error) {
	cfg = cfg.withDefaults()
	var same, other []forge.PostSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		same, err = corpus.ListSectionPosts(gctx, section, currentSlug, cfg.SameSectionPool)
		if err != nil {
			return fmt.Errorf("list same-section posts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		other, err = corpus.ListOtherSectionPosts(gctx, section, currentSlug, cfg.CrossSectionPool)
		if err != nil {
			return fmt.Errorf("list cross-section posts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return SelectRecommendations(same, other, cfg, currentSlug), nil
}

// SelectRecommendations prefers same-section posts (up to MaxSameSection),
// tops up to MinSameSection and then to Total from the cross-section pool,
// never repeating a slug or including currentSlug.
func SelectRecommendations(same, other []forge.PostSummary, cfg LinkConfig, currentSlug string) []Recommendation {
	cfg = cfg.withDefaults()
	seen := map[string]struct{}{currentSlug: {}}
	recs := pick(same, seen, cfg.MaxSameSection, cfg.PreviewLength)
	if len(recs) < cfg.MinSameSection {
		recs = append(recs, pick(other, seen, cfg.MinSameSection-len(recs), cfg.PreviewLength)...)
	}
	if need := cfg.Total - len(recs); need > 0 {
		recs = append(recs, pick(other, seen, need, cfg.PreviewLength)...)
	}
	if len(recs) > cfg.Total {
		recs = recs[:cfg.Total]
	}
	return recs
}

func pick(posts []forge.PostSummary, seen map[string]struct{}, limit, previewLength int) []Recommendation {
	var out []Recommendation
	for _, p := range posts {
		if len(out) >= limit {
			break
		}
		if p.Slug == "" {
			continue
		}
		if _, dup := seen[p.Slug]; dup {
			continue
		}
		seen[p.Slug] = struct{}{}
		out = append(out, Recommendation{
			Slug:    p.Slug,
			Title:   firstNonEmpty(p.Title, p.Headline, p.Slug),
			Section: p.Section,
			URL:     "/artykuly/" + p.Slug,
			Preview: preview(firstNonEmpty(p.Lead, p.Description, p.Title, p.Headline), previewLength),
		})
	}
	return out
}

func preview(text string, limit int) string {
	text = normalizeSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return strings.TrimRight(string([]rune(text)[:limit]), " ") + "…"
}

// FormatRecommendations renders the internal-links block, padding it with
// filler paragraphs until it reaches minChars characters.
func FormatRecommendations(recs []Recommendation, minChars int) string {
	if minChars <= 0 {
		minChars = DefaultLinkConfig().MinChars
	}
	if len(recs) == 0 {
		return padTo(recommendationsHeader+"\n\n"+emptyRecommendations, emptyFiller, minChars)
	}
	lines := []string{recommendationsHeader, ""}
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("- [%s](%s)", r.Title, r.URL))
		if r.Preview != "" {
			lines = append(lines, "  "+r.Preview)
		}
	}
	return padTo(strings.TrimSpace(strings.Join(lines, "\n")), recommendationsFiller, minChars)
}

func padTo(content, filler string, minChars int) string {
	for utf8.RuneCountInString(content) < minChars {
		content += "\n\n" + filler
	}
	return content
}

// injectRecommendations replaces the first sources/recommendations section
// with block, or appends a new section.
func injectRecommendations(sections []Section, block string) []Section {
	for i, s := range sections {
		if _, ok := recommendationTitles[foldTitle(s.Title)]; ok {
			sections[i].Body = block
			return sections
		}
	}
	return append(sections, Section{Title: RecommendationsTitle, Body: block})
}
