// Package article holds the generated article document: its schema
// validation, the repairs applied before persistence, link handling and MDX
// rendering.
package article

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// Locale is the only locale documents are written in.
const Locale = "pl-PL"

// Robots is the only robots directive documents carry.
const Robots = "index,follow"

// Document is the generated article. Its JSON form is stored verbatim as the
// post payload.
type Document struct {
	Topic    string   `json:"topic" validate:"required,min=5"`
	Slug     string   `json:"slug" validate:"required,slug"`
	Locale   string   `json:"locale" validate:"required,eq=pl-PL"`
	Taxonomy Taxonomy `json:"taxonomy"`
	SEO      SEO      `json:"seo"`
	Article  Content  `json:"article"`
	AEO      AEO      `json:"aeo"`
	Debug    *Debug   `json:"debug,omitempty"`
}

// Taxonomy places the article on the site.
type Taxonomy struct {
	Section    string   `json:"section" validate:"required"`
	Categories []string `json:"categories" validate:"min=1"`
	Tags       []string `json:"tags" validate:"min=3"`
}

// SEO is search metadata.
type SEO struct {
	Title       string `json:"title" validate:"required,max=70"`
	Description string `json:"description" validate:"required,min=120,max=170"`
	Slug        string `json:"slug" validate:"required,slug"`
	Canonical   string `json:"canonical" validate:"required,url"`
	Robots      string `json:"robots" validate:"required,robots"`
}

// Content is the article narrative.
type Content struct {
	Headline  string    `json:"headline" validate:"required"`
	Lead      string    `json:"lead" validate:"min=250"`
	Sections  []Section `json:"sections" validate:"min=4,dive"`
	Citations []string  `json:"citations" validate:"min=2,dive,url"`
}

// Section is one titled markdown block.
type Section struct {
	Title string `json:"title" validate:"min=3"`
	Body  string `json:"body" validate:"min=400"`
}

// AEO is answer-engine metadata.
type AEO struct {
	GeoFocus []string `json:"geo_focus" validate:"min=1"`
	FAQ      []FAQ    `json:"faq" validate:"min=2,max=3,dive"`
}

// FAQ is one question and answer.
type FAQ struct {
	Question string `json:"question" yaml:"question" validate:"min=5"`
	Answer   string `json:"answer" yaml:"answer" validate:"min=10"`
}

// Debug carries data that is useful to editors but not rendered.
type Debug struct {
	// Citations lists candidate sources that were not linked inline.
	Citations []string `json:"citations,omitempty"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.Taxonomy.Categories = cloneStrings(d.Taxonomy.Categories)
	out.Taxonomy.Tags = cloneStrings(d.Taxonomy.Tags)
	out.Article.Sections = append([]Section(nil), d.Article.Sections...)
	out.Article.Citations = cloneStrings(d.Article.Citations)
	out.AEO.GeoFocus = cloneStrings(d.AEO.GeoFocus)
	out.AEO.FAQ = append([]FAQ(nil), d.AEO.FAQ...)
	if d.Debug != nil {
		out.Debug = &Debug{Citations: cloneStrings(d.Debug.Citations)}
	}
	return out
}

// ToPost projects the document onto a post row. The document itself becomes
// the payload.
func (d Document) ToPost(sourceKey string) (forge.Post, error) {
	const op = "article.ToPost"
	body := ComposeBodyMDX(d.Article.Sections)
	if body == "" {
		return forge.Post{}, forge.E(forge.KindValidation, op, "article has no non-empty sections", nil)
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return forge.Post{}, forge.E(forge.KindInternal, op, "marshal payload", err)
	}
	faq := make([]forge.FAQItem, 0, len(d.AEO.FAQ))
	for _, f := range d.AEO.FAQ {
		faq = append(faq, forge.FAQItem{Question: f.Question, Answer: f.Answer})
	}
	return forge.Post{
		Slug:        d.Slug,
		SourceKey:   sourceKey,
		Locale:      d.Locale,
		Section:     d.Taxonomy.Section,
		Categories:  nonNil(d.Taxonomy.Categories),
		Tags:        nonNil(d.Taxonomy.Tags),
		Title:       d.SEO.Title,
		Description: d.SEO.Description,
		Canonical:   d.SEO.Canonical,
		Robots:      d.SEO.Robots,
		Headline:    d.Article.Headline,
		Lead:        d.Article.Lead,
		BodyMDX:     body,
		GeoFocus:    nonNil(d.AEO.GeoFocus),
		FAQ:         faq,
		Citations:   nonNil(d.Article.Citations),
		Payload:     payload,
	}, nil
}

// HasSection reports whether a section with the given title exists,
// ignoring case and surrounding space.
func (d Document) HasSection(title string) bool {
	want := foldTitle(title)
	for _, s := range d.Article.Sections {
		if foldTitle(s.Title) == want {
			return true
		}
	}
	return false
}

func foldTitle(s string) string {
	return strings.ToLower(normalizeSpace(s))
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
