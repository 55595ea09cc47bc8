// Package enhancer refreshes older posts with a dated section, a new FAQ
// entry and current citations drawn from fresh research.
package enhancer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/providers/research"
)

const (
	defaultMinAge       = 17 * 24 * time.Hour
	defaultBatchSize    = 20
	defaultMaxCitations = 4
	defaultMinCitations = 3
	dateLayout          = "2006-01-02"
)

// Outcomes recorded per visited post.
const (
	OutcomeEnhanced        = "enhanced"
	OutcomeAlreadyEnhanced = "already_enhanced"
	OutcomeFewSources      = "few_sources"
	OutcomeFailed          = "failed"
)

// Researcher runs a research task. Failures are not absorbed here.
type Researcher interface {
	Research(ctx context.Context, topic, background string) (research.Findings, error)
}

// Writer produces the enhancement JSON.
type Writer interface {
	Generate(ctx context.Context, brief, instructions string) (json.RawMessage, error)
}

// Announcer archives and publishes an updated post.
type Announcer interface {
	Announce(ctx context.Context, post forge.Post, doc article.Document, action, sourceURL string, jobID int64)
}

// Config tunes batch selection and citation policy.
type Config struct {
	MinAge           time.Duration `mapstructure:"min_age"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxCitations     int           `mapstructure:"max_citations"`
	MinCitations     int           `mapstructure:"min_citations"`
	BlockedTLDs      []string      `mapstructure:"blocked_tlds"`
	LowQualityTokens []string      `mapstructure:"low_quality_tokens"`
}

func (c Config) withDefaults() Config {
	if c.MinAge <= 0 {
		c.MinAge = defaultMinAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxCitations <= 0 {
		c.MaxCitations = defaultMaxCitations
	}
	if c.MinCitations <= 0 {
		c.MinCitations = defaultMinCitations
	}
	if c.BlockedTLDs == nil {
		c.BlockedTLDs = DefaultBlockedTLDs
	}
	if c.LowQualityTokens == nil {
		c.LowQualityTokens = DefaultLowQualityTokens
	}
	return c
}

// Response is the writer's enhancement payload.
type Response struct {
	AddedSection struct {
		Title string `json:"title"`
		Body  string `json:"body" validate:"required"`
	} `json:"added_section"`
	AddedFAQ struct {
		Question string `json:"question" validate:"min=5"`
		Answer   string `json:"answer" validate:"min=10"`
	} `json:"added_faq"`
}

// Report summarizes one batch.
type Report struct {
	Visited  int `json:"visited"`
	Enhanced int `json:"enhanced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Enhancer visits stale posts one at a time.
type Enhancer struct {
	posts     forge.PostStore
	research  Researcher
	writer    Writer
	repairer  *article.Repairer
	announcer Announcer
	clock     forge.Clock
	cfg       Config
	policy    SourcePolicy
	logger    *zap.Logger
}

// New builds an Enhancer. announcer may be nil.
func New(
	posts forge.PostStore,
	researcher Researcher,
	writer Writer,
	repairer *article.Repairer,
	announcer Announcer,
	clock forge.Clock,
	cfg Config,
	logger *zap.Logger,
) *Enhancer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhancer{
		posts:     posts,
		research:  researcher,
		writer:    writer,
		repairer:  repairer,
		announcer: announcer,
		clock:     clock,
		cfg:       cfg,
		policy:    SourcePolicy{BlockedTLDs: cfg.BlockedTLDs, LowQualityTokens: cfg.LowQualityTokens, Max: cfg.MaxCitations},
		logger:    logger,
	}
}

// RunBatch enhances up to limit posts older than MinAge, oldest first. A
// non-positive limit uses BatchSize. Posts already enhanced today do not
// count toward limit, so the listing pages past them. Per-post failures are
// logged and counted; only listing errors and cancellation abort the batch.
func (e *Enhancer) RunBatch(ctx context.Context, limit int) (Report, error) {
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}
	now := e.clock.Now()
	cutoff := now.Add(-e.cfg.MinAge)

	var report Report
	attempted := 0
	for offset := 0; attempted < limit; {
		posts, err := e.posts.ListStalePosts(ctx, cutoff, offset, limit)
		if err != nil {
			return report, fmt.Errorf("list stale posts: %w", err)
		}
		offset += len(posts)
		for _, post := range posts {
			if attempted >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Visited++
			outcome, err := e.enhance(ctx, post, now)
			metrics.IncEnhancerPost(outcome)
			switch outcome {
			case OutcomeEnhanced:
				report.Enhanced++
			case OutcomeFailed:
				report.Failed++
				e.logger.Warn("enhancement failed", zap.String("slug", post.Slug), zap.Error(err))
			default:
				report.Skipped++
				e.logger.Info("enhancement skipped", zap.String("slug", post.Slug), zap.String("reason", outcome))
			}
			if outcome != OutcomeAlreadyEnhanced {
				attempted++
			}
		}
		if len(posts) < limit {
			break
		}
	}
	e.logger.Info("enhancer batch",
		zap.Int("visited", report.Visited),
		zap.Int("enhanced", report.Enhanced),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// EnhancePost enhances a single post and reports whether it changed.
func (e *Enhancer) EnhancePost(ctx context.Context, post forge.Post) (bool, error) {
	outcome, err := e.enhance(ctx, post, e.clock.Now())
	metrics.IncEnhancerPost(outcome)
	return outcome == OutcomeEnhanced, err
}

func (e *Enhancer) enhance(ctx context.Context, post forge.Post, now time.Time) (string, error) {
	const op = "enhancer.Enhance"
	if len(post.Payload) == 0 {
		return OutcomeFailed, forge.E(forge.KindInsufficientInput, op, "post has no payload", nil)
	}
	doc := e.repairer.FromPost(post)
	date := now.UTC().Format(dateLayout)
	title := SectionTitle(date)
	if doc.HasSection(title) {
		return OutcomeAlreadyEnhanced, nil
	}

	findings, err := e.research.Research(ctx, firstNonEmpty(doc.SEO.Title, doc.Article.Headline), doc.Article.Lead)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("research: %w", err)
	}
	sources := e.policy.Select(findings.Sources)
	if len(sources) < e.cfg.MinCitations {
		return OutcomeFewSources, forge.E(forge.KindInsufficientInput, op,
			fmt.Sprintf("not enough high-quality sources for %s: %d", post.Slug, len(sources)), nil)
	}

	raw, err := e.writer.Generate(ctx, brief(doc, findings.Summary, sources, date), instructions)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("writer: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return OutcomeFailed, forge.E(forge.KindValidation, op, "enhancement is not valid JSON", err)
	}
	if err := article.CheckStruct(op, resp); err != nil {
		return OutcomeFailed, err
	}

	urls := make([]string, 0, len(sources))
	for _, src := range sources {
		urls = append(urls, src.URL)
	}
	updated, err := e.apply(doc, resp, title, urls)
	if err != nil {
		return OutcomeFailed, err
	}

	next, err := updated.ToPost(post.SourceKey)
	if err != nil {
		return OutcomeFailed, err
	}
	next.ID = post.ID
	next.CreatedAt = post.CreatedAt
	next.UpdatedAt = now
	if err := e.posts.UpdatePost(ctx, next); err != nil {
		return OutcomeFailed, fmt.Errorf("update post: %w", err)
	}
	e.logger.Info("post enhanced", zap.String("slug", post.Slug), zap.Int("citations", len(urls)))
	if e.announcer != nil {
		e.announcer.Announce(ctx, next, updated, pipeline.ActionEnhanced, "", 0)
	}
	return OutcomeEnhanced, nil
}

// apply appends the dated section and FAQ entry, replaces the citations and
// re-runs link enforcement and floors. The result must validate.
func (e *Enhancer) apply(doc article.Document, resp Response, title string, citations []string) (article.Document, error) {
	doc = doc.Clone()
	doc.Article.Sections = append(doc.Article.Sections, article.Section{
		Title: title,
		Body:  strings.TrimSpace(resp.AddedSection.Body),
	})

	question := strings.TrimSpace(resp.AddedFAQ.Question)
	duplicate := false
	for _, f := range doc.AEO.FAQ {
		if strings.EqualFold(strings.TrimSpace(f.Question), question) {
			duplicate = true
			break
		}
	}
	if !duplicate {
		doc.AEO.FAQ = append(doc.AEO.FAQ, article.FAQ{Question: question, Answer: strings.TrimSpace(resp.AddedFAQ.Answer)})
	}
	if extra := len(doc.AEO.FAQ) - article.MaxFAQ; extra > 0 {
		doc.AEO.FAQ = doc.AEO.FAQ[extra:]
	}

	doc.Article.Citations = citations
	doc.Debug = nil
	doc = e.repairer.EnforceSourceLinks(doc)
	doc = e.repairer.EnsureFloors(doc)

	raw, err := json.Marshal(doc)
	if err != nil {
		return article.Document{}, fmt.Errorf("marshal enhanced document: %w", err)
	}
	validated, err := article.Validate(raw)
	if err != nil {
		return article.Document{}, err
	}
	return validated, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

