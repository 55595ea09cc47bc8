package article

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-forge/internal/forge"
)

type fakeStore struct {
	fakeCorpus
	slugs    []string
	slugsErr error
}

func (f *fakeStore) ListSlugs(context.Context) ([]string, error) {
	return f.slugs, f.slugsErr
}

func newTestRepairer(store Store) *Repairer {
	return NewRepairer(RepairConfig{}, store)
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		fakeCorpus: fakeCorpus{same: summaries("Zdrowie", "s1", "s2"), other: summaries("Praktyka", "o1", "o2", "o3")},
		slugs:      []string{"joga-dla-poczatkujacych"},
	}
	doc := validDocument()
	doc.SEO.Title = "Joga dla początkujących: kompletny przewodnik po pierwszych tygodniach praktyki"
	doc.Article.Sections[1].Body = "Raz jeszcze [Harvard ponownie](https://www.health.harvard.edu/yoga/). " + longText()
	doc.AEO.FAQ = append(doc.AEO.FAQ, FAQ{Question: "OD CZEGO ZACZĄĆ?", Answer: "Duplikat pytania."})

	got, err := newTestRepairer(store).Prepare(context.Background(), doc, PrepareOptions{
		FallbackTopic: "Joga dla początkujących",
		Section:       "Zdrowie",
		SourceURL:     "https://example.com/joga#fragment",
		Candidates:    []forge.SourceCandidate{{URL: "https://nowe.pl/badanie"}},
	})
	require.NoError(t, err)

	require.Equal(t, "joga-dla-poczatkujacych-2", got.Slug)
	require.Equal(t, got.Slug, got.SEO.Slug)
	require.Equal(t, "https://joga.yoga/artykuly/joga-dla-poczatkujacych-2", got.SEO.Canonical)
	require.Equal(t, "Zdrowie", got.Taxonomy.Section)
	require.Equal(t, "Joga dla początkujących: kompletny przewodnik po pierwszych", got.SEO.Title)
	require.Len(t, got.AEO.FAQ, 2)

	require.Equal(t, []string{
		"https://www.health.harvard.edu/yoga",
		"https://example.com/joga",
		"https://nowe.pl/badanie",
	}, got.Article.Citations)
	require.NotNil(t, got.Debug)
	require.Equal(t, []string{"https://example.com/joga", "https://nowe.pl/badanie"}, got.Debug.Citations)
	require.True(t, strings.HasPrefix(got.Article.Sections[1].Body, "Raz jeszcze Harvard ponownie. "))

	require.Len(t, got.Article.Sections, 5)
	last := got.Article.Sections[4]
	require.Equal(t, RecommendationsTitle, last.Title)
	require.Contains(t, last.Body, "(/artykuly/s1)")
	require.Contains(t, last.Body, "(/artykuly/o2)")

	_, err = Validate(marshal(t, got))
	require.NoError(t, err)

	// input untouched
	require.Equal(t, "joga-dla-poczatkujacych", doc.Slug)
	require.Len(t, doc.Article.Sections, 4)
}

func TestPrepareSurvivesCorpusFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{fakeCorpus: fakeCorpus{err: errors.New("db down")}}
	got, err := newTestRepairer(store).Prepare(context.Background(), validDocument(), PrepareOptions{})
	require.NoError(t, err)
	require.Equal(t, "joga-dla-poczatkujacych", got.Slug)
	require.True(t, got.HasSection(RecommendationsTitle))
	require.Contains(t, got.Article.Sections[len(got.Article.Sections)-1].Body, "bibliotece joga.yoga")
}

func TestPrepareFailsWithoutSlugs(t *testing.T) {
	t.Parallel()

	store := &fakeStore{slugsErr: errors.New("db down")}
	_, err := newTestRepairer(store).Prepare(context.Background(), validDocument(), PrepareOptions{})
	require.ErrorContains(t, err, "list slugs")
}

func TestPrepareRejectsCitationsCollapsedByDedupe(t *testing.T) {
	t.Parallel()

	doc := validDocument()
	doc.Article.Citations = []string{
		"https://www.health.harvard.edu/yoga/",
		"https://WWW.health.harvard.edu/yoga#badania",
	}
	_, err := Validate(marshal(t, doc))
	require.NoError(t, err)

	_, err = newTestRepairer(&fakeStore{}).Prepare(context.Background(), doc, PrepareOptions{})
	require.Error(t, err)
	require.True(t, forge.IsKind(err, forge.KindValidation))
	require.Contains(t, err.Error(), "citations")

	got, err := newTestRepairer(&fakeStore{}).Prepare(context.Background(), doc, PrepareOptions{
		SourceURL: "https://example.com/joga",
	})
	require.NoError(t, err)
	require.Len(t, got.Article.Citations, 2)
}

func TestPrepareSlugFallbacks(t *testing.T) {
	t.Parallel()

	doc := validDocument()
	doc.Slug = ""
	doc.SEO.Slug = "!!"
	doc.SEO.Title = "Ćwiczenia oddechowe"
	got, err := newTestRepairer(&fakeStore{}).Prepare(context.Background(), doc, PrepareOptions{
		CanonicalOverride: "https://example.com/kanoniczny",
	})
	require.NoError(t, err)
	require.Equal(t, "cwiczenia-oddechowe", got.Slug)
	require.Equal(t, "https://example.com/kanoniczny", got.SEO.Canonical)
}

func TestEnsureFloors(t *testing.T) {
	t.Parallel()

	doc := validDocument()
	doc.Article.Sections = []Section{
		{Title: "Wstęp", Body: "Krótko."},
		{Title: " ", Body: ""},
		{Title: "Źródła", Body: "Lista."},
	}
	got := newTestRepairer(&fakeStore{}).EnsureFloors(doc)

	titles := make([]string, 0, len(got.Article.Sections))
	for _, s := range got.Article.Sections {
		titles = append(titles, s.Title)
		require.GreaterOrEqual(t, utf8.RuneCountInString(s.Body), DefaultMinBodyChars, s.Title)
	}
	require.Equal(t, []string{"Wstęp", "Praktyczne wskazówki", "Jak zacząć", "Źródła"}, titles)
	require.True(t, strings.HasPrefix(got.Article.Sections[0].Body, "Krótko.\n\n"))
}

func TestEnforceSourceLinksClearsDebug(t *testing.T) {
	t.Parallel()

	doc := validDocument()
	doc.Article.Citations = []string{"https://www.health.harvard.edu/yoga"}
	doc.Debug = &Debug{Citations: []string{"https://stare.pl/"}}
	got := newTestRepairer(&fakeStore{}).EnforceSourceLinks(doc)
	require.Nil(t, got.Debug)
}

func TestFromPostUsesValidPayload(t *testing.T) {
	t.Parallel()

	doc := validDocument()
	post, err := doc.ToPost("")
	require.NoError(t, err)
	post.Title = "Kolumna zmieniona ręcznie"

	got := newTestRepairer(&fakeStore{}).FromPost(post)
	require.Equal(t, doc, got)
}

func TestFromPostRebuildsFromColumns(t *testing.T) {
	t.Parallel()

	post := forge.Post{
		ID:          7,
		Slug:        "Zła Slug!",
		Title:       "Joga na co dzień",
		Description: "Krótki opis.",
		Lead:        "Krótki lead.",
		Tags:        []string{"joga"},
		BodyMDX:     "Wstęp bez nagłówka.\n\n## Wstęp\n\nKrótki tekst.\n\n## Źródła\n\nhttps://a.pl",
		FAQ:         []forge.FAQItem{{Question: "Czy warto?", Answer: "Zdecydowanie tak."}},
		Citations:   []string{"https://a.pl", "https://b.pl/x/"},
		Payload:     []byte(`{"added_sections":[],"added_faq":{}}`),
	}
	got := newTestRepairer(&fakeStore{}).FromPost(post)

	require.Equal(t, "zla-slug", got.Slug)
	require.Equal(t, "https://joga.yoga/artykuly/zla-slug", got.SEO.Canonical)
	require.Equal(t, defaultSection, got.Taxonomy.Section)
	require.Equal(t, []string{defaultSection}, got.Taxonomy.Categories)
	require.Equal(t, []string{"joga", "zdrowie", "praktyka"}, got.Taxonomy.Tags)
	require.Equal(t, []string{"Polska"}, got.AEO.GeoFocus)
	require.Len(t, got.AEO.FAQ, 2)
	require.Equal(t, "Wstęp", got.Article.Sections[0].Title)
	require.Equal(t, "Źródła", got.Article.Sections[len(got.Article.Sections)-1].Title)
	require.Equal(t, []string{"https://a.pl/", "https://b.pl/x"}, got.Article.Citations)

	_, err := Validate(marshal(t, got))
	require.NoError(t, err)
}

func TestFromPostShortTopic(t *testing.T) {
	t.Parallel()

	got := newTestRepairer(&fakeStore{}).FromPost(forge.Post{Slug: "joga", Title: "Joga", Section: "Ruch"})
	require.Equal(t, "Joga Ruch", got.Topic)
	require.Equal(t, "joga", got.Slug)
	require.Len(t, got.Article.Sections, DefaultMinSections)
}
