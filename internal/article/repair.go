package article

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const (
	// DefaultSiteBase is the public site used for canonical URLs.
	DefaultSiteBase = "https://joga.yoga"
	// DefaultMinSections is the minimum number of article sections.
	DefaultMinSections = 4
	// DefaultMinBodyChars is the minimum length of every section body.
	DefaultMinBodyChars = 400

	minLeadChars        = 250
	minDescriptionChars = 120
	maxDescriptionChars = 170
	minTopicChars       = 5
	defaultSection      = "Zdrowie i joga"
)

const bodyFiller = "Ta część artykułu zostanie jeszcze rozwinięta. Zachęcamy do regularnej, uważnej praktyki i słuchania potrzeb własnego ciała, a w razie wątpliwości do konsultacji z doświadczonym nauczycielem jogi."

var fillerSectionTitles = []string{
	"Praktyczne wskazówki",
	"Jak zacząć",
	"Na co zwrócić uwagę",
	"Podsumowanie",
}

var defaultTags = []string{"joga", "zdrowie", "praktyka"}

// RepairConfig tunes the repairer.
type RepairConfig struct {
	SiteBase     string     `mapstructure:"site_base"`
	TitleLimit   int        `mapstructure:"title_limit"`
	MinSections  int        `mapstructure:"min_sections"`
	MinBodyChars int        `mapstructure:"min_body_chars"`
	Links        LinkConfig `mapstructure:"links"`
}

func (c RepairConfig) withDefaults() RepairConfig {
	if c.SiteBase == "" {
		c.SiteBase = DefaultSiteBase
	}
	c.SiteBase = strings.TrimRight(c.SiteBase, "/")
	if c.TitleLimit <= 0 {
		c.TitleLimit = DefaultTitleLimit
	}
	if c.MinSections <= 0 {
		c.MinSections = DefaultMinSections
	}
	if c.MinBodyChars <= 0 {
		c.MinBodyChars = DefaultMinBodyChars
	}
	c.Links = c.Links.withDefaults()
	return c
}

// Store is what the repairer reads from persisted posts.
type Store interface {
	Corpus
	ListSlugs(ctx context.Context) ([]string, error)
}

// Repairer normalizes documents before persistence and rebuilds documents
// from stored posts.
type Repairer struct {
	cfg    RepairConfig
	store  Store
	logger *zap.Logger
}

// RepairOption customizes a Repairer.
type RepairOption func(*Repairer)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) RepairOption {
	return func(r *Repairer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRepairer builds a Repairer backed by store.
func NewRepairer(cfg RepairConfig, store Store, opts ...RepairOption) *Repairer {
	r := &Repairer{cfg: cfg.withDefaults(), store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Repairer) Config() RepairConfig {
	return r.cfg
}

// CanonicalFor returns the canonical URL of slug.
func (r *Repairer) CanonicalFor(slug string) string {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	base := r.cfg.SiteBase + "/artykuly"
	if slug == "" {
		return base
	}
	return base + "/" + slug
}

// PrepareOptions carries the context of a fresh generation.
type PrepareOptions struct {
	FallbackTopic     string
	Section           string
	SourceURL         string
	Candidates        []forge.SourceCandidate
	CanonicalOverride string
}

// Prepare normalizes a validated, freshly generated document: unique slug and
// canonical URL, section override, trimmed titles, sanitized FAQ, merged
// citations, one hyperlink per source, internal links and length floors. The
// result is checked against the schema again before it is returned.
func (r *Repairer) Prepare(ctx context.Context, doc Document, opts PrepareOptions) (Document, error) {
	doc = doc.Clone()

	existing, err := r.store.ListSlugs(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("list slugs: %w", err)
	}
	desired := sluggable(doc.Slug, doc.SEO.Slug, doc.SEO.Title, opts.FallbackTopic)
	slug := UniqueSlug(existing, desired)
	doc.Slug = slug
	doc.SEO.Slug = slug
	doc.SEO.Canonical = firstNonEmpty(opts.CanonicalOverride, r.CanonicalFor(slug))
	if opts.Section != "" {
		doc.Taxonomy.Section = opts.Section
	}
	doc.Locale = Locale
	doc.SEO.Robots = Robots
	if utf8.RuneCountInString(strings.TrimSpace(doc.Topic)) < minTopicChars {
		doc.Topic = firstNonEmpty(opts.FallbackTopic, doc.Article.Headline, doc.SEO.Title, doc.Topic)
	}

	doc.SEO.Title = TrimTitle(doc.SEO.Title, r.cfg.TitleLimit)
	doc.Article.Headline = TrimTitle(doc.Article.Headline, r.cfg.TitleLimit)
	doc.AEO.FAQ = SanitizeFAQ(doc.AEO.FAQ, MaxFAQ)

	citations := append([]string(nil), doc.Article.Citations...)
	if opts.SourceURL != "" {
		citations = append(citations, opts.SourceURL)
	}
	for _, c := range opts.Candidates {
		citations = append(citations, c.URL)
	}
	doc.Article.Citations = DedupeURLs(citations)
	doc = r.EnforceSourceLinks(doc)

	recs, err := Recommend(ctx, r.store, r.cfg.Links, slug, doc.Taxonomy.Section)
	if err != nil {
		r.logger.Warn("internal links unavailable", zap.String("slug", slug), zap.Error(err))
		recs = nil
	}
	doc.Article.Sections = injectRecommendations(doc.Article.Sections, FormatRecommendations(recs, r.cfg.Links.MinChars))

	doc = r.EnsureFloors(doc)
	// Dedupe can merge spellings of one source below the citation minimum.
	if err := CheckStruct("article.Prepare", doc); err != nil {
		return Document{}, err
	}
	r.logger.Debug("document prepared",
		zap.String("slug", slug),
		zap.Int("sections", len(doc.Article.Sections)),
		zap.Int("citations", len(doc.Article.Citations)),
		zap.Int("recommendations", len(recs)),
	)
	return doc, nil
}

// EnforceSourceLinks keeps a single hyperlink per source across all section
// bodies and records citations that are not linked inline in Debug.
func (r *Repairer) EnforceSourceLinks(doc Document) Document {
	seen := make(map[string]struct{})
	sections := make([]Section, len(doc.Article.Sections))
	for i, s := range doc.Article.Sections {
		sections[i] = Section{Title: s.Title, Body: EnforceSingleHyperlink(s.Body, seen)}
	}
	doc.Article.Sections = sections

	var unlinked []string
	for _, c := range doc.Article.Citations {
		if _, ok := seen[NormalizeURL(c)]; !ok {
			unlinked = append(unlinked, c)
		}
	}
	if len(unlinked) == 0 {
		doc.Debug = nil
		return doc
	}
	doc.Debug = &Debug{Citations: unlinked}
	return doc
}

// EnsureFloors pads short section bodies and adds filler sections until the
// minimum count is reached. Filler sections go before a trailing
// recommendations section.
func (r *Repairer) EnsureFloors(doc Document) Document {
	sections := make([]Section, 0, max(len(doc.Article.Sections), r.cfg.MinSections))
	for _, s := range doc.Article.Sections {
		title := normalizeSpace(s.Title)
		body := strings.TrimSpace(s.Body)
		if title == "" && body == "" {
			continue
		}
		if utf8.RuneCountInString(title) < 3 {
			title = strings.TrimSpace(title + " " + fillerSectionTitles[0])
		}
		sections = append(sections, Section{Title: title, Body: padTo(body, bodyFiller, r.cfg.MinBodyChars)})
	}

	insertAt := len(sections)
	if n := len(sections); n > 0 {
		if _, ok := recommendationTitles[foldTitle(sections[n-1].Title)]; ok {
			insertAt = n - 1
		}
	}
	for i := 0; len(sections) < r.cfg.MinSections; i++ {
		title := fillerSectionTitles[i%len(fillerSectionTitles)]
		if i >= len(fillerSectionTitles) {
			title = fmt.Sprintf("%s %d", title, i/len(fillerSectionTitles)+1)
		}
		filler := Section{Title: title, Body: padTo(bodyFiller, bodyFiller, r.cfg.MinBodyChars)}
		sections = append(sections[:insertAt], append([]Section{filler}, sections[insertAt:]...)...)
		insertAt++
	}
	doc.Article.Sections = sections
	return doc
}

// FromPost rebuilds a document from a stored post. A valid payload is used
// as is; otherwise the document is reconstructed column by column with filler
// text covering the length minimums, and the FAQ is backfilled from
// DefaultFAQ.
func (r *Repairer) FromPost(post forge.Post) Document {
	if len(post.Payload) > 0 {
		doc, err := Validate(post.Payload)
		if err == nil {
			return doc
		}
		r.logger.Info("stored payload invalid, rebuilding from columns",
			zap.Int64("post_id", post.ID),
			zap.String("slug", post.Slug),
			zap.Error(err),
		)
	}

	section := firstNonEmpty(post.Section, defaultSection)
	topic := firstNonEmpty(post.Title, post.Headline, post.Slug)
	if utf8.RuneCountInString(topic) < minTopicChars {
		topic = normalizeSpace(topic + " " + section)
	}
	slug := post.Slug
	if !slugPattern.MatchString(slug) {
		slug = sluggable(post.Slug, post.Title, post.Headline)
	}
	categories := cloneStrings(post.Categories)
	if len(categories) == 0 {
		categories = []string{section}
	}
	title := TrimTitle(firstNonEmpty(post.Title, post.Headline, topic), r.cfg.TitleLimit)
	lead := strings.TrimSpace(post.Lead)

	faq := make([]FAQ, 0, len(post.FAQ))
	for _, f := range post.FAQ {
		faq = append(faq, FAQ{Question: f.Question, Answer: f.Answer})
	}
	geo := cloneStrings(post.GeoFocus)
	if len(geo) == 0 {
		geo = []string{"Polska"}
	}

	doc := Document{
		Topic:  topic,
		Slug:   slug,
		Locale: Locale,
		Taxonomy: Taxonomy{
			Section:    section,
			Categories: categories,
			Tags:       topUpTags(post.Tags),
		},
		SEO: SEO{
			Title:       title,
			Description: description(post.Description, lead),
			Slug:        slug,
			Canonical:   firstNonEmpty(post.Canonical, r.CanonicalFor(slug)),
			Robots:      Robots,
		},
		Article: Content{
			Headline:  TrimTitle(firstNonEmpty(post.Headline, title), r.cfg.TitleLimit),
			Lead:      padTo(firstNonEmpty(lead, title), bodyFiller, minLeadChars),
			Sections:  ParseBodyMDX(post.BodyMDX),
			Citations: DedupeURLs(post.Citations),
		},
		AEO: AEO{
			GeoFocus: geo,
			FAQ:      backfillFAQ(SanitizeFAQ(faq, MaxFAQ), MinFAQ),
		},
	}
	return r.EnsureFloors(doc)
}

// sluggable returns the slug of the first candidate that yields a valid one.
func sluggable(candidates ...string) string {
	for _, c := range candidates {
		if s := Slugify(c); slugPattern.MatchString(s) {
			return s
		}
	}
	return DefaultSlug
}

// topUpTags dedupes tags and pads them with defaults to at least three.
func topUpTags(tags []string) []string {
	out := make([]string, 0, max(len(tags), len(defaultTags)))
	seen := make(map[string]struct{}, len(tags)+len(defaultTags))
	add := func(t string) {
		t = normalizeSpace(t)
		key := strings.ToLower(t)
		if t == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	for _, t := range tags {
		add(t)
	}
	for _, t := range defaultTags {
		if len(out) >= len(defaultTags) {
			break
		}
		add(t)
	}
	return out
}

// description fits the meta description into its length window, borrowing
// from the lead when it is too short.
func description(desc, lead string) string {
	d := normalizeSpace(desc)
	if utf8.RuneCountInString(d) < minDescriptionChars {
		d = normalizeSpace(d + " " + lead)
	}
	if utf8.RuneCountInString(d) < minDescriptionChars {
		d = normalizeSpace(d + " " + bodyFiller)
	}
	return TrimTitle(d, maxDescriptionChars)
}
