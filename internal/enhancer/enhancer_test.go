package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/providers/research"
	"github.com/JakeFAU/article-forge/internal/storage/memory"
)

const sentence = "Praktyka jogi wspiera oddech i koncentrację. "

var today = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeResearch struct {
	findings research.Findings
	err      error
	calls    int
}

func (f *fakeResearch) Research(context.Context, string, string) (research.Findings, error) {
	f.calls++
	return f.findings, f.err
}

type fakeWriter struct {
	raw    string
	err    error
	briefs []string
}

func (f *fakeWriter) Generate(_ context.Context, brief, _ string) (json.RawMessage, error) {
	f.briefs = append(f.briefs, brief)
	return json.RawMessage(f.raw), f.err
}

type recordingAnnouncer struct {
	actions []string
	slugs   []string
}

func (a *recordingAnnouncer) Announce(_ context.Context, post forge.Post, _ article.Document, action, _ string, _ int64) {
	a.actions = append(a.actions, action)
	a.slugs = append(a.slugs, post.Slug)
}

func longText() string {
	return strings.TrimSpace(strings.Repeat(sentence, 10))
}

func storedDocument(slug string) article.Document {
	return article.Document{
		Topic:  "Joga na kręgosłup",
		Slug:   slug,
		Locale: article.Locale,
		Taxonomy: article.Taxonomy{
			Section:    "Zdrowie",
			Categories: []string{"Zdrowie"},
			Tags:       []string{"joga", "kręgosłup", "zdrowie"},
		},
		SEO: article.SEO{
			Title:       "Joga na kręgosłup",
			Description: strings.TrimSpace(strings.Repeat("Oddech i ruch w codziennej praktyce. ", 4)),
			Slug:        slug,
			Canonical:   "https://joga.yoga/artykuly/" + slug,
			Robots:      article.Robots,
		},
		Article: article.Content{
			Headline: "Joga na kręgosłup",
			Lead:     strings.TrimSpace(strings.Repeat(sentence, 6)),
			Sections: []article.Section{
				{Title: "Anatomia", Body: longText()},
				{Title: "Oddech", Body: longText()},
				{Title: "Pozycje", Body: longText()},
				{Title: "Regularność", Body: longText()},
			},
			Citations: []string{"https://old.example.com/a", "https://old.example.com/b"},
		},
		AEO: article.AEO{
			GeoFocus: []string{"Polska"},
			FAQ: []article.FAQ{
				{Question: "Od czego zacząć?", Answer: "Od kilku prostych pozycji i spokojnego oddechu."},
				{Question: "Jak często ćwiczyć?", Answer: "Kilka razy w tygodniu po kilkanaście minut."},
			},
		},
	}
}

func goodSources() []forge.SourceCandidate {
	return []forge.SourceCandidate{
		{URL: "https://news.example.ru/joga", PublishedAt: "2025-05-30"},
		{URL: "https://www.reddit.com/r/yoga/1", PublishedAt: "2025-05-29"},
		{URL: "https://journal.example.org/2", Title: "Badanie 2", PublishedAt: "2025-04-01", Score: 0.5},
		{URL: "https://journal.example.org/1", Title: "Badanie 1", PublishedAt: "2025-05-01"},
		{URL: "https://journal.example.org/3", Title: "Badanie 3", PublishedAt: "2025-04-01", Score: 0.9},
		{URL: "https://journal.example.org/4", Title: "Badanie 4", PublishedAt: "2025-01-01"},
		{URL: "https://journal.example.org/5", Title: "Badanie 5", PublishedAt: "2024-01-01"},
	}
}

func enhancementJSON(question string) string {
	body := "Nowe badanie z [Badanie 1](https://journal.example.org/1) pokazuje poprawę. " + longText()
	resp := map[string]any{
		"added_section": map[string]string{"title": "Nowości", "body": body},
		"added_faq":     map[string]string{"question": question, "answer": "Tak, według najnowszych badań regularna praktyka pomaga."},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

type harness struct {
	clock     *testClock
	posts     *memory.PostStore
	research  *fakeResearch
	writer    *fakeWriter
	announcer *recordingAnnouncer
	enhancer  *Enhancer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     &testClock{now: today.AddDate(0, 0, -30)},
		research:  &fakeResearch{findings: research.Findings{Summary: "Nowe wyniki.", Sources: goodSources()}},
		writer:    &fakeWriter{raw: enhancementJSON("Czy joga pomaga na ból pleców?")},
		announcer: &recordingAnnouncer{},
	}
	h.posts = memory.NewPostStore(memory.NewJobStore(), memory.WithNow(h.clock.Now))
	repairer := article.NewRepairer(article.RepairConfig{}, h.posts)
	h.enhancer = New(h.posts, h.research, h.writer, repairer, h.announcer, h.clock, Config{}, zap.NewNop())
	return h
}

func (h *harness) store(t *testing.T, doc article.Document, at time.Time) forge.Post {
	t.Helper()
	h.clock.Set(at)
	post, err := doc.ToPost("url:https://example.com/" + doc.Slug)
	require.NoError(t, err)
	saved, err := h.posts.SavePost(context.Background(), post, nil)
	require.NoError(t, err)
	h.clock.Set(today)
	return saved
}

func (h *harness) payload(t *testing.T, id int64) article.Document {
	t.Helper()
	post, err := h.posts.GetPost(context.Background(), id)
	require.NoError(t, err)
	doc, err := article.Validate(post.Payload)
	require.NoError(t, err)
	return doc
}

func TestRunBatchEnhancesStalePosts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	old := h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	h.store(t, storedDocument("swiezy-wpis"), today.AddDate(0, 0, -3))

	report, err := h.enhancer.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 1, Enhanced: 1}, report)

	doc := h.payload(t, old.ID)
	last := doc.Article.Sections[len(doc.Article.Sections)-1]
	require.Equal(t, "Dopelniono 2025-06-01", last.Title)
	require.Contains(t, last.Body, "[Badanie 1](https://journal.example.org/1)")
	require.Equal(t, []string{
		"https://journal.example.org/1",
		"https://journal.example.org/3",
		"https://journal.example.org/2",
		"https://journal.example.org/4",
	}, doc.Article.Citations)
	require.Len(t, doc.AEO.FAQ, 3)
	require.Equal(t, "Czy joga pomaga na ból pleców?", doc.AEO.FAQ[2].Question)

	stored, err := h.posts.GetPost(context.Background(), old.ID)
	require.NoError(t, err)
	require.Equal(t, today, stored.UpdatedAt)
	require.Equal(t, old.CreatedAt, stored.CreatedAt)
	require.Contains(t, stored.BodyMDX, "## Dopelniono 2025-06-01")
	require.Equal(t, doc.Article.Citations, stored.Citations)

	require.Equal(t, []string{"enhanced"}, h.announcer.actions)
	require.Len(t, h.writer.briefs, 1)
	require.Contains(t, h.writer.briefs[0], "'Dopelniono 2025-06-01'")
	require.Contains(t, h.writer.briefs[0], "- Badanie 1: https://journal.example.org/1")
	require.NotContains(t, h.writer.briefs[0], "reddit")
}

func TestRunBatchSkipsAlreadyEnhancedToday(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))

	_, err := h.enhancer.RunBatch(context.Background(), 5)
	require.NoError(t, err)
	report, err := h.enhancer.RunBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 1, Skipped: 1}, report)
	require.Equal(t, 1, h.research.calls)
}

func TestRunBatchPagesPastPostsEnhancedToday(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.store(t, storedDocument("pierwszy"), today.AddDate(0, 0, -30))
	second := h.store(t, storedDocument("drugi"), today.AddDate(0, 0, -29))
	third := h.store(t, storedDocument("trzeci"), today.AddDate(0, 0, -28))

	report, err := h.enhancer.RunBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 2, Enhanced: 2}, report)
	require.Equal(t, []string{first.Slug, second.Slug}, h.announcer.slugs)

	report, err = h.enhancer.RunBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 3, Enhanced: 1, Skipped: 2}, report)
	require.Equal(t, []string{first.Slug, second.Slug, third.Slug}, h.announcer.slugs)
	require.True(t, h.payload(t, third.ID).HasSection("Dopelniono 2025-06-01"))

	report, err = h.enhancer.RunBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 3, Skipped: 3}, report)
	require.Equal(t, 3, h.research.calls)
}

func TestEnhanceRequiresEnoughSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	post := h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	h.research.findings.Sources = goodSources()[:4]

	changed, err := h.enhancer.EnhancePost(context.Background(), post)
	require.False(t, changed)
	require.True(t, forge.IsKind(err, forge.KindInsufficientInput))
	require.Empty(t, h.writer.briefs)
}

func TestEnhanceResearchFailureSkipsPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	h.research.err = forge.E(forge.KindTimeout, "research.Research", "budget exceeded", nil)

	report, err := h.enhancer.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, Report{Visited: 1, Failed: 1}, report)
	require.Empty(t, h.announcer.actions)
}

func TestEnhanceRejectsInvalidResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	post := h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	h.writer.raw = `{"added_section":{"title":"x","body":"treść"},"added_faq":{"question":"Czy to działa?","answer":"krótko"}}`

	changed, err := h.enhancer.EnhancePost(context.Background(), post)
	require.False(t, changed)
	require.True(t, forge.IsKind(err, forge.KindValidation))
	require.ErrorContains(t, err, "added_faq.answer")

	h.writer.raw = "not json"
	_, err = h.enhancer.EnhancePost(context.Background(), post)
	require.True(t, forge.IsKind(err, forge.KindValidation))

	require.Len(t, h.payload(t, post.ID).Article.Sections, 4)
}

func TestEnhanceWriterFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	post := h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	h.writer.err = errors.New("assistant down")

	_, err := h.enhancer.EnhancePost(context.Background(), post)
	require.ErrorContains(t, err, "assistant down")
}

func TestEnhanceFAQDedupeAndCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := storedDocument("joga-na-kregoslup")
	doc.AEO.FAQ = append(doc.AEO.FAQ, article.FAQ{Question: "Czy joga pomaga na ból pleców?", Answer: "Często tak, przy regularnej praktyce."})
	post := h.store(t, doc, today.AddDate(0, 0, -30))

	h.writer.raw = enhancementJSON("czy JOGA pomaga na ból pleców?")
	changed, err := h.enhancer.EnhancePost(context.Background(), post)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, doc.AEO.FAQ, h.payload(t, post.ID).AEO.FAQ)

	doc2 := storedDocument("joga-na-sen")
	doc2.AEO.FAQ = doc.AEO.FAQ
	post2 := h.store(t, doc2, today.AddDate(0, 0, -30))
	h.writer.raw = enhancementJSON("Jak długo trwa sesja?")
	_, err = h.enhancer.EnhancePost(context.Background(), post2)
	require.NoError(t, err)
	faq := h.payload(t, post2.ID).AEO.FAQ
	require.Len(t, faq, 3)
	require.Equal(t, "Jak często ćwiczyć?", faq[0].Question)
	require.Equal(t, "Jak długo trwa sesja?", faq[2].Question)
}

func TestRunBatchHonorsCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store(t, storedDocument("joga-na-kregoslup"), today.AddDate(0, 0, -30))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.enhancer.RunBatch(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, report.Visited)
}
