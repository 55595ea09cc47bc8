// Package pipeline turns a video URL or a topic into a stored article:
// transcript, research, writer, validation, repair, persistence and the
// post-save archive and event fan-out.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
	"github.com/JakeFAU/article-forge/internal/providers/research"
	"github.com/JakeFAU/article-forge/internal/providers/transcript"
	"github.com/JakeFAU/article-forge/internal/telemetry"
)

const (
	defaultSection        = "Zdrowie i joga"
	defaultArchivePrefix  = "articles"
	defaultPublishTimeout = 30 * time.Second
	fallbackTopic         = "Artykuł joga.yoga"
	researchTopicChars    = 300
	researchContextChars  = 1500
)

// Article event actions.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionEnhanced = "enhanced"
)

// Transcriber fetches the spoken text of a video.
type Transcriber interface {
	Fetch(ctx context.Context, url, languageHint string) (transcript.Transcript, error)
}

// Researcher returns findings, absorbing its own failures.
type Researcher interface {
	Enrich(ctx context.Context, topic, background string) research.Findings
}

// Writer produces a raw article document.
type Writer interface {
	Generate(ctx context.Context, brief, instructions string) (json.RawMessage, error)
}

// Deps are the collaborators of a Pipeline. Blobs and Publisher are optional.
type Deps struct {
	Posts      forge.PostStore
	Transcript Transcriber
	Research   Researcher
	Writer     Writer
	Repairer   *article.Repairer
	Blobs      forge.BlobStore
	Publisher  forge.Publisher
	Hasher     forge.Hasher
	Clock      forge.Clock
}

// Config tunes the pipeline.
type Config struct {
	Language       string        `mapstructure:"language"`
	DefaultSection string        `mapstructure:"default_section"`
	ArchivePrefix  string        `mapstructure:"archive_prefix"`
	EventTopic     string        `mapstructure:"event_topic"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DefaultSection) == "" {
		c.DefaultSection = defaultSection
	}
	if strings.TrimSpace(c.ArchivePrefix) == "" {
		c.ArchivePrefix = defaultArchivePrefix
	}
	c.ArchivePrefix = strings.Trim(c.ArchivePrefix, "/")
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	return c
}

// URLRequest asks for an article built from a video transcript.
type URLRequest struct {
	URL      string
	JobID    int64
	Language string
}

// TopicRequest asks for an article on a topic.
type TopicRequest struct {
	Topic    string
	Section  string
	Keywords []string
	Guidance string
}

// Result is a stored article. JobSettled reports whether the owning job was
// finished in the same transaction as the post insert; when false the caller
// still owns the job.
type Result struct {
	Post       forge.Post
	Document   article.Document
	Reused     bool
	JobSettled bool
}

// Pipeline orchestrates one generation at a time per call. It is safe for
// concurrent use as long as its dependencies are.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Posts == nil:
		return nil, errors.New("pipeline: post store is required")
	case deps.Writer == nil:
		return nil, errors.New("pipeline: writer is required")
	case deps.Repairer == nil:
		return nil, errors.New("pipeline: repairer is required")
	case deps.Hasher == nil:
		return nil, errors.New("pipeline: hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg.withDefaults(), logger: logger}, nil
}

// FromURL generates (or reuses) the article for a video URL. When the source
// was already turned into a post the stored post is returned without calling
// any provider.
func (p *Pipeline) FromURL(ctx context.Context, req URLRequest) (Result, error) {
	const op = "pipeline.FromURL"
	sourceURL := strings.TrimSpace(req.URL)
	if sourceURL == "" {
		return Result{}, forge.E(forge.KindInsufficientInput, op, "missing url", nil)
	}
	key := forge.SourceKey(sourceURL)
	log := p.logger.With(zap.String("url", sourceURL), zap.String("source_key", key), zap.Int64("job_id", req.JobID))

	if res, ok, err := p.reuse(ctx, key); err != nil || ok {
		if ok {
			log.Info("source already published", zap.String("slug", res.Post.Slug))
		}
		return res, err
	}
	if p.deps.Transcript == nil {
		return Result{}, forge.E(forge.KindConfig, op, "transcript provider is not configured", nil)
	}

	lang := req.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	spanCtx, end := telemetry.StartSpan(ctx, "pipeline.transcript", attribute.String("url", sourceURL))
	tr, err := p.deps.Transcript.Fetch(spanCtx, sourceURL, lang)
	end(err)
	if err != nil {
		return Result{}, err
	}
	log.Info("transcript ready", zap.String("mode", tr.Mode), zap.Int("chars", tr.Chars))

	findings := p.research(ctx, excerpt(tr.Text, researchTopicChars), sourceURL)
	brief := Brief{Transcript: tr.Text, Summary: findings.Summary, Sources: findings.Sources}
	doc, err := p.generate(ctx, brief, sourceURL)
	if err != nil {
		return Result{}, err
	}
	doc = ensureCited(doc, sourceURL)

	section := doc.Taxonomy.Section
	if strings.TrimSpace(section) == "" {
		section = p.cfg.DefaultSection
	}
	prepared, err := p.deps.Repairer.Prepare(ctx, doc, article.PrepareOptions{
		FallbackTopic: firstNonEmpty(doc.Topic, doc.SEO.Title, fallbackTopic),
		Section:       section,
		SourceURL:     sourceURL,
		Candidates:    findings.Sources,
	})
	if err != nil {
		return Result{}, fmt.Errorf("prepare document: %w", err)
	}

	var outcome *forge.JobOutcome
	if req.JobID != 0 {
		outcome = &forge.JobOutcome{JobID: req.JobID, Status: forge.JobStatusDone}
	}
	saved, err := p.persist(ctx, prepared, key, outcome)
	if err != nil {
		return Result{}, err
	}
	metrics.IncArticles("url")
	log.Info("article stored", zap.Int64("post_id", saved.ID), zap.String("slug", saved.Slug))

	p.Announce(ctx, saved, prepared, ActionCreated, sourceURL, req.JobID)
	return Result{Post: saved, Document: prepared, JobSettled: outcome != nil}, nil
}

// FromTopic generates (or reuses) an article for a topic.
func (p *Pipeline) FromTopic(ctx context.Context, req TopicRequest) (Result, error) {
	const op = "pipeline.FromTopic"
	topic := strings.Join(strings.Fields(req.Topic), " ")
	if topic == "" {
		return Result{}, forge.E(forge.KindInsufficientInput, op, "missing topic", nil)
	}
	key, err := forge.TopicSourceKey(p.deps.Hasher, topic)
	if err != nil {
		return Result{}, forge.E(forge.KindInternal, op, "hash topic", err)
	}
	log := p.logger.With(zap.String("topic", topic), zap.String("source_key", key))

	if res, ok, err := p.reuse(ctx, key); err != nil || ok {
		if ok {
			log.Info("topic already published", zap.String("slug", res.Post.Slug))
		}
		return res, err
	}

	section := strings.TrimSpace(req.Section)
	if section == "" {
		section = p.cfg.DefaultSection
	}
	findings := p.research(ctx, topic, req.Guidance)
	brief := Brief{
		Section:  section,
		Topic:    topic,
		Keywords: req.Keywords,
		Guidance: req.Guidance,
		Summary:  findings.Summary,
		Sources:  findings.Sources,
	}
	doc, err := p.generate(ctx, brief, "")
	if err != nil {
		return Result{}, err
	}
	prepared, err := p.deps.Repairer.Prepare(ctx, doc, article.PrepareOptions{
		FallbackTopic: topic,
		Section:       section,
		Candidates:    findings.Sources,
	})
	if err != nil {
		return Result{}, fmt.Errorf("prepare document: %w", err)
	}
	saved, err := p.persist(ctx, prepared, key, nil)
	if err != nil {
		return Result{}, err
	}
	metrics.IncArticles("topic")
	log.Info("article stored", zap.Int64("post_id", saved.ID), zap.String("slug", saved.Slug))

	p.Announce(ctx, saved, prepared, ActionCreated, "", 0)
	return Result{Post: saved, Document: prepared}, nil
}

func (p *Pipeline) reuse(ctx context.Context, key string) (Result, bool, error) {
	post, err := p.deps.Posts.FindBySourceKey(ctx, key)
	switch {
	case errors.Is(err, forge.ErrNotFound):
		return Result{}, false, nil
	case err != nil:
		return Result{}, false, fmt.Errorf("find by source key: %w", err)
	}
	metrics.IncArticles("reused")
	return Result{Post: post, Document: p.deps.Repairer.FromPost(post), Reused: true}, true, nil
}

func (p *Pipeline) research(ctx context.Context, topic, background string) research.Findings {
	if p.deps.Research == nil {
		metrics.IncResearchDegraded("not_configured")
		return research.Findings{}
	}
	ctx, end := telemetry.StartSpan(ctx, "pipeline.research")
	findings := p.deps.Research.Enrich(ctx, topic, excerpt(background, researchContextChars))
	end(nil)
	return findings
}

func (p *Pipeline) generate(ctx context.Context, brief Brief, sourceURL string) (article.Document, error) {
	ctx, end := telemetry.StartSpan(ctx, "pipeline.writer")
	raw, err := p.deps.Writer.Generate(ctx, brief.String(), Instructions(p.deps.Repairer.Config().SiteBase, sourceURL))
	end(err)
	if err != nil {
		return article.Document{}, err
	}
	doc, err := article.Validate(raw)
	if err != nil {
		p.logger.Warn("writer returned an invalid document",
			zap.Error(err),
			zap.String("payload", forge.Truncate(string(raw), 800)),
		)
		return article.Document{}, err
	}
	return doc, nil
}

func (p *Pipeline) persist(ctx context.Context, doc article.Document, key string, outcome *forge.JobOutcome) (forge.Post, error) {
	post, err := doc.ToPost(key)
	if err != nil {
		return forge.Post{}, err
	}
	if outcome != nil {
		outcome.FinishedAt = p.deps.Clock.Now()
	}
	ctx, end := telemetry.StartSpan(ctx, "pipeline.persist", attribute.String("slug", post.Slug))
	saved, err := p.deps.Posts.SavePost(ctx, post, outcome)
	end(err)
	if err != nil {
		return forge.Post{}, fmt.Errorf("save post: %w", err)
	}
	return saved, nil
}

// Export formats kept in the archive.
const (
	ExportMDX  = "mdx"
	ExportJSON = "json"

	mdxContentType  = "text/markdown; charset=utf-8"
	jsonContentType = "application/json"
)

// Archived reads back a post's archived MDX export (the default) or JSON
// payload together with its content type.
func (p *Pipeline) Archived(ctx context.Context, slug, format string) ([]byte, string, error) {
	const op = "pipeline.Archived"
	if p.deps.Blobs == nil {
		return nil, "", forge.E(forge.KindConfig, op, "no archive store configured", nil)
	}
	jsonPath, mdxPath := p.ArchivePaths(slug)
	switch format {
	case "", ExportMDX:
		data, err := p.deps.Blobs.GetObject(ctx, mdxPath)
		return data, mdxContentType, err
	case ExportJSON:
		data, err := p.deps.Blobs.GetObject(ctx, jsonPath)
		return data, jsonContentType, err
	default:
		return nil, "", forge.E(forge.KindValidation, op, "unknown export format "+format, nil)
	}
}

// ArchivePaths returns the object paths of a post's JSON payload and MDX
// rendering.
func (p *Pipeline) ArchivePaths(slug string) (string, string) {
	base := p.cfg.ArchivePrefix + "/" + slug
	return base + ".json", base + ".mdx"
}

// Announce archives the stored document and publishes an article event. The
// steps run concurrently on a context detached from ctx's cancellation;
// failures are logged and never undo the stored post.
func (p *Pipeline) Announce(ctx context.Context, post forge.Post, doc article.Document, action, sourceURL string, jobID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	defer cancel()
	log := p.logger.With(zap.String("slug", post.Slug), zap.Int64("post_id", post.ID))

	jsonPath, mdxPath := p.ArchivePaths(post.Slug)
	var archive []string
	if p.deps.Blobs != nil {
		archive = []string{jsonPath, mdxPath}
	}

	var g errgroup.Group
	if p.deps.Blobs != nil {
		g.Go(func() error {
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal archive: %w", err)
			}
			return p.put(ctx, log, jsonPath, jsonContentType, data)
		})
		g.Go(func() error {
			data, err := article.RenderMDX(doc)
			if err != nil {
				log.Warn("render mdx failed", zap.Error(err))
				return err
			}
			return p.put(ctx, log, mdxPath, mdxContentType, data)
		})
	}
	if p.deps.Publisher != nil {
		g.Go(func() error {
			event := forge.ArticleEvent{
				PostID:    post.ID,
				Slug:      post.Slug,
				Canonical: post.Canonical,
				Section:   post.Section,
				SourceURL: sourceURL,
				JobID:     jobID,
				Archive:   archive,
				Action:    action,
				At:        p.deps.Clock.Now(),
			}
			id, err := p.deps.Publisher.Publish(ctx, p.cfg.EventTopic, event)
			if err != nil {
				log.Warn("publish article event failed", zap.Error(err))
				return err
			}
			log.Debug("article event published", zap.String("message_id", id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("post-save steps incomplete", zap.Error(err))
	}
}

func (p *Pipeline) put(ctx context.Context, log *zap.Logger, path, contentType string, data []byte) error {
	uri, err := p.deps.Blobs.PutObject(ctx, path, contentType, data)
	if err != nil {
		log.Warn("archive write failed", zap.String("path", path), zap.Error(err))
		return err
	}
	log.Debug("archived", zap.String("uri", uri))
	return nil
}

// ensureCited appends the source URL to the citations unless an equivalent
// URL is already listed.
func ensureCited(doc article.Document, sourceURL string) article.Document {
	want := forge.NormalizeURL(sourceURL)
	for _, c := range doc.Article.Citations {
		if forge.NormalizeURL(c) == want {
			return doc
		}
	}
	doc = doc.Clone()
	doc.Article.Citations = append(doc.Article.Citations, sourceURL)
	return doc
}

func excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return forge.Truncate(text, limit)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
