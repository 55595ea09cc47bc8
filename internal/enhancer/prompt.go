package enhancer

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/forge"
)

const (
	sectionExcerptChars = 400
	answerExcerptChars  = 200
)

const instructions = "Jesteś redaktorem joga.yoga. Piszesz po polsku, ciepłym i eksperckim tonem." +
	" Masz dodać jedną sekcję 'Dopelniono {data}' oraz jedno pytanie FAQ bazując na" +
	" najnowszych materiałach. Zwracasz wyłącznie JSON zgodny z poleceniem."

// SectionTitle is the title of the block appended on date (YYYY-MM-DD).
func SectionTitle(date string) string {
	return "Dopelniono " + date
}

func brief(doc article.Document, insights string, sources []forge.SourceCandidate, date string) string {
	var b strings.Builder
	b.WriteString("Aktualny artykuł joga.yoga:\n")
	fmt.Fprintf(&b, "Nagłówek: %s\n", doc.Article.Headline)
	fmt.Fprintf(&b, "Lead: %s\n", doc.Article.Lead)
	b.WriteString("Sekcje:\n")
	for _, s := range doc.Article.Sections {
		fmt.Fprintf(&b, "- %s: %s\n", s.Title, clip(s.Body, sectionExcerptChars))
	}
	b.WriteString("\nFAQ:\n")
	if len(doc.AEO.FAQ) == 0 {
		b.WriteString("- brak\n")
	}
	for _, f := range doc.AEO.FAQ {
		fmt.Fprintf(&b, "- %s: %s\n", f.Question, clip(f.Answer, answerExcerptChars))
	}
	if strings.TrimSpace(insights) == "" {
		insights = "Brak dodatkowego streszczenia, wykorzystaj kontekst z linków."
	}
	fmt.Fprintf(&b, "\nNowe materiały z researchu:\n%s\n\n", insights)
	fmt.Fprintf(&b, "Źródła (%d):\n", len(sources))
	for _, src := range sources {
		label := src.Title
		if label == "" {
			label = src.Description
		}
		if label == "" {
			label = src.URL
		}
		fmt.Fprintf(&b, "- %s: %s\n", label, src.URL)
	}
	b.WriteString("\nPolecenie:\n")
	fmt.Fprintf(&b, "1. Napisz nową sekcję zatytułowaną dokładnie '%s'.\n", SectionTitle(date))
	b.WriteString("   Sekcja ma mieć 2-4 akapity i jasno pokazywać, co się zmieniło względem oryginału.\n")
	b.WriteString("2. Dodaj jedno nowe pytanie FAQ wraz z odpowiedzią na bazie świeżych informacji.\n")
	b.WriteString("3. Nie przepisuj starej treści, korzystaj z linków i streszczenia powyżej.\n")
	b.WriteString(`4. Odpowiedz WYŁĄCZNIE w formacie JSON: {"added_section": {"title", "body"}, "added_faq": {"question", "answer"}}.`)
	return b.String()
}

func clip(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
