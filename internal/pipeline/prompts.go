package pipeline

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const maxBriefSources = 6

// Brief is the editorial input for one generation.
type Brief struct {
	Section    string
	Topic      string
	Keywords   []string
	Guidance   string
	Transcript string
	Summary    string
	Sources    []forge.SourceCandidate
}

// String renders the user message sent to the writer.
func (b Brief) String() string {
	lines := []string{
		"Tworzysz długą, empatyczną i ekspercką publikację dla bloga joga.yoga.",
		"Budujesz narrację z wyraźnymi akapitami, przykładami oraz wskazówkami do wdrożenia w codzienności.",
		"Dbasz o logiczne przejścia między sekcjami i konsekwentny ton głosu marki.",
		"Lead musi liczyć co najmniej dwa akapity, a każda sekcja rozwija temat w sposób pogłębiony, a nie skrótowy.",
		"FAQ zawiera 2-3 pytania i wyczerpujące odpowiedzi wynikające z treści artykułu.",
	}
	if s := strings.TrimSpace(b.Section); s != "" {
		lines = append(lines, fmt.Sprintf("Rubryka redakcyjna: %s.", s))
	}
	if s := strings.TrimSpace(b.Topic); s != "" {
		lines = append(lines, fmt.Sprintf("Temat przewodni artykułu: %s.", s))
	}
	if kw := joinKeywords(b.Keywords); kw != "" {
		lines = append(lines, fmt.Sprintf("Wpleć naturalnie słowa kluczowe SEO: %s.", kw))
	}
	if s := strings.TrimSpace(b.Guidance); s != "" {
		lines = append(lines, fmt.Sprintf("Dodatkowe wytyczne redakcyjne: %s.", s))
	}
	if b.Summary != "" || len(b.Sources) > 0 {
		lines = append(lines, "Wykorzystaj dostarczone ustalenia z researchu jako wsparcie merytoryczne i cytowania faktów.")
	}
	if b.Summary != "" {
		lines = append(lines, "Podsumowanie researchu:", b.Summary)
	}
	if len(b.Sources) > 0 {
		lines = append(lines, "Proponowane źródła do cytowania:")
		for i, src := range b.Sources {
			if i == maxBriefSources {
				break
			}
			label := src.Title
			if label == "" {
				label = src.Description
			}
			if line := strings.TrimSpace(label + " " + src.URL); line != "" {
				lines = append(lines, "- "+line)
			}
		}
	}
	lines = append(lines,
		"Przygotuj jednowierszowy tytuł SEO i nagłówek (55-60 znaków), bez dwukropków i dopisków, wykorzystując naturalnie przynajmniej jedno kluczowe słowo z tematu lub listy słów kluczowych.",
		"Opracuj sugestywny nagłówek, rozbudowany lead i sekcje, które odpowiadają na potrzeby odbiorców joga.yoga.",
	)
	if b.Transcript != "" {
		lines = append(lines,
			"Bazuj na poniższej transkrypcji (przetłumacz ją na polski, jeśli jest w innym języku), rozwiń ją w pełnoprawny artykuł i unikaj streszczania.",
			"TRANSKRYPCJA:",
			b.Transcript,
		)
	}
	return strings.Join(lines, "\n")
}

// Instructions returns the run instructions shared by every generation.
func Instructions(siteBase, sourceURL string) string {
	parts := []string{
		"You are the content architect for joga.yoga and respond exclusively in Polish (pl-PL).",
		"Always return exactly one JSON object containing: topic, slug, locale, taxonomy, seo, article, aeo.",
		"Craft a captivating lead made of several rich paragraphs that invite the reader in.",
		"Create at least four long-form sections; each body must exceed 400 characters, flow naturally across 4-6 paragraphs and deliver actionable, expert guidance.",
		"Add a minimum of two high-quality citation URLs under article.citations and prefer three when available.",
		"Populate taxonomy.tags with at least three precise joga.yoga-friendly keywords and ensure taxonomy.categories is never empty.",
		fmt.Sprintf("Produce complete SEO metadata and set seo.canonical to a URL that begins with %s.", strings.TrimRight(siteBase, "/")),
		"Keep seo.title and article.headline in Polish under 60 characters, single-line, free of colons, and naturally containing at least one strategic keyword.",
		"Ensure aeo.geo_focus lists meaningful Polish or European localisations and compose 2-3 FAQ entries that resolve outstanding reader questions with thorough answers.",
		"Return JSON only, without comments, markdown or surrounding prose.",
	}
	if sourceURL != "" {
		parts = append(parts, fmt.Sprintf(
			"Incorporate the supplied source URL (%s) as one of the citations whenever it genuinely supports the piece.", sourceURL))
	}
	return strings.Join(parts, " ")
}

func joinKeywords(keywords []string) string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return strings.Join(out, ", ")
}
