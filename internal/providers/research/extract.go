package research

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const maxDescription = 300

// resultPayload is the task result body. Every field is optional.
type resultPayload struct {
	Output struct {
		Summary    json.RawMessage `json:"summary"`
		Content    json.RawMessage `json:"content"`
		Insights   json.RawMessage `json:"insights"`
		Highlights json.RawMessage `json:"highlights"`
		Sources    []rawSource     `json:"sources"`
		Basis      []struct {
			Citations []rawSource `json:"citations"`
		} `json:"basis"`
	} `json:"output"`
}

type rawSource struct {
	URL         string          `json:"url"`
	Link        string          `json:"link"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Snippet     string          `json:"snippet"`
	Excerpts    json.RawMessage `json:"excerpts"`
	PublishedAt string          `json:"published_at"`
	Date        string          `json:"date"`
	Score       *float64        `json:"score"`
	Relevance   *float64        `json:"relevance"`
}

func (s rawSource) candidate() forge.SourceCandidate {
	c := forge.SourceCandidate{
		URL:         strings.TrimSpace(firstNonEmpty(s.URL, s.Link)),
		Title:       normalizeSpace(firstNonEmpty(s.Title, s.Name)),
		PublishedAt: strings.TrimSpace(firstNonEmpty(s.PublishedAt, s.Date)),
	}
	desc := firstNonEmpty(s.Description, s.Snippet)
	if desc == "" {
		desc = strings.Join(stringList(s.Excerpts), " ")
	}
	c.Description = forge.Truncate(stripHTML(desc), maxDescription)
	switch {
	case s.Score != nil:
		c.Score = *s.Score
	case s.Relevance != nil:
		c.Score = *s.Relevance
	}
	return c
}

// summary picks the first populated summary shape.
func (p resultPayload) summary() string {
	out := p.Output
	if s := rawText(out.Summary); s != "" {
		return s
	}
	var nested struct {
		Summary json.RawMessage `json:"summary"`
	}
	if isObject(out.Content) && json.Unmarshal(out.Content, &nested) == nil {
		if s := rawText(nested.Summary); s != "" {
			return s
		}
	}
	if s := rawText(out.Content); s != "" {
		return s
	}
	if s := strings.Join(stringList(out.Insights), "\n"); s != "" {
		return s
	}
	return strings.Join(stringList(out.Highlights), "\n")
}

// candidates lists output.sources followed by every basis citation.
func (p resultPayload) candidates() []forge.SourceCandidate {
	var out []forge.SourceCandidate
	for _, s := range p.Output.Sources {
		out = append(out, s.candidate())
	}
	for _, b := range p.Output.Basis {
		for _, s := range b.Citations {
			out = append(out, s.candidate())
		}
	}
	return out
}

func rawText(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// stringList accepts a string, a list of strings or a list of objects with
// text-like fields.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	if s := rawText(raw); s != "" {
		return []string{s}
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := rawText(item); s != "" {
			out = append(out, s)
			continue
		}
		var obj struct {
			Text    string `json:"text"`
			Summary string `json:"summary"`
			Content string `json:"content"`
		}
		if json.Unmarshal(item, &obj) == nil {
			if s := strings.TrimSpace(firstNonEmpty(obj.Text, obj.Summary, obj.Content)); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// stripHTML drops markup from provider excerpts.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return normalizeSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normalizeSpace(s)
	}
	return normalizeSpace(doc.Text())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
