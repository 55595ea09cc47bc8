package article

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var sectionHeading = regexp.MustCompile(`(?m)^## +(.+)$`)

// ComposeBodyMDX renders sections as "## title" blocks separated by blank
// lines. Sections with an empty body are skipped.
func ComposeBodyMDX(sections []Section) string {
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		title := normalizeSpace(s.Title)
		body := strings.TrimSpace(s.Body)
		if body == "" {
			continue
		}
		if title == "" {
			blocks = append(blocks, body)
			continue
		}
		blocks = append(blocks, "## "+title+"\n\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

// ParseBodyMDX splits an MDX body back into sections on level-two headings.
// Text before the first heading is dropped.
func ParseBodyMDX(body string) []Section {
	locs := sectionHeading.FindAllStringSubmatchIndex(body, -1)
	sections := make([]Section, 0, len(locs))
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, Section{
			Title: strings.TrimSpace(body[loc[2]:loc[3]]),
			Body:  strings.TrimSpace(body[loc[1]:end]),
		})
	}
	return sections
}

type frontMatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Slug        string   `yaml:"slug"`
	Canonical   string   `yaml:"canonical"`
	Robots      string   `yaml:"robots"`
	Locale      string   `yaml:"locale"`
	Section     string   `yaml:"section"`
	Categories  []string `yaml:"categories,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	GeoFocus    []string `yaml:"geo_focus,omitempty"`
	FAQ         []FAQ    `yaml:"faq,omitempty"`
	Citations   []string `yaml:"citations,omitempty"`
}

// RenderMDX renders the document as an MDX file with YAML front matter, as
// archived next to the JSON payload.
func RenderMDX(doc Document) ([]byte, error) {
	fm := frontMatter{
		Title:       doc.SEO.Title,
		Description: doc.SEO.Description,
		Slug:        doc.Slug,
		Canonical:   doc.SEO.Canonical,
		Robots:      doc.SEO.Robots,
		Locale:      doc.Locale,
		Section:     doc.Taxonomy.Section,
		Categories:  doc.Taxonomy.Categories,
		Tags:        doc.Taxonomy.Tags,
		GeoFocus:    doc.AEO.GeoFocus,
		FAQ:         doc.AEO.FAQ,
		Citations:   doc.Article.Citations,
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")
	if h := normalizeSpace(doc.Article.Headline); h != "" {
		fmt.Fprintf(&buf, "# %s\n\n", h)
	}
	if lead := strings.TrimSpace(doc.Article.Lead); lead != "" {
		buf.WriteString(lead)
		buf.WriteString("\n\n")
	}
	buf.WriteString(ComposeBodyMDX(doc.Article.Sections))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
