package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/article-forge/internal/forge"
)

var postColumns = []string{
	"id", "slug", "source_key", "locale", "section", "categories", "tags",
	"title", "description", "canonical", "robots", "headline", "lead", "body_mdx",
	"geo_focus", "faq", "citations", "payload", "created_at", "updated_at",
}

const summaryColumns = "slug, section, title, headline, lead, description, updated_at"

// PostStore persists posts and finishes their jobs.
type PostStore struct {
	db  DB
	now func() time.Time
}

// NewPostStore builds a PostStore on an existing pool.
func NewPostStore(db DB) (*PostStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

type postColumnsJSON struct {
	categories, tags, geoFocus, faq, citations []byte
}

func encodePostJSON(p forge.Post) (postColumnsJSON, error) {
	var out postColumnsJSON
	var err error
	if out.categories, err = jsonList(p.Categories); err != nil {
		return out, fmt.Errorf("encode categories: %w", err)
	}
	if out.tags, err = jsonList(p.Tags); err != nil {
		return out, fmt.Errorf("encode tags: %w", err)
	}
	if out.geoFocus, err = jsonList(p.GeoFocus); err != nil {
		return out, fmt.Errorf("encode geo_focus: %w", err)
	}
	if out.faq, err = jsonList(p.FAQ); err != nil {
		return out, fmt.Errorf("encode faq: %w", err)
	}
	if out.citations, err = jsonList(p.Citations); err != nil {
		return out, fmt.Errorf("encode citations: %w", err)
	}
	return out, nil
}

func jsonList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func payloadArg(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

// SavePost inserts the post. When outcome is set, the owning job is finished
// as done with the new post id inside the same transaction.
func (s *PostStore) SavePost(ctx context.Context, post forge.Post, outcome *forge.JobOutcome) (forge.Post, error) {
	cols, err := encodePostJSON(post)
	if err != nil {
		return forge.Post{}, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return forge.Post{}, fmt.Errorf("begin save post: %w", err)
	}
	defer rollback(ctx, tx)

	now := s.now()
	err = tx.QueryRow(ctx, `INSERT INTO posts (
	slug, source_key, locale, section, categories, tags, title, description,
	canonical, robots, headline, lead, body_mdx, geo_focus, faq, citations,
	payload, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
RETURNING id`,
		post.Slug, textOrNull(post.SourceKey), post.Locale, post.Section, cols.categories, cols.tags,
		post.Title, post.Description, post.Canonical, post.Robots, post.Headline, post.Lead,
		post.BodyMDX, cols.geoFocus, cols.faq, cols.citations, payloadArg(post.Payload), now,
	).Scan(&post.ID)
	if err != nil {
		return forge.Post{}, fmt.Errorf("insert post %q: %w", post.Slug, err)
	}
	post.CreatedAt = now
	post.UpdatedAt = now

	if outcome != nil {
		done := *outcome
		done.Status = forge.JobStatusDone
		done.ArticleID = &post.ID
		if done.FinishedAt.IsZero() {
			done.FinishedAt = now
		}
		if err := finishJob(ctx, tx, done); err != nil {
			return forge.Post{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return forge.Post{}, fmt.Errorf("commit save post: %w", err)
	}
	return post, nil
}

// UpdatePost rewrites the mutable columns of an existing post.
func (s *PostStore) UpdatePost(ctx context.Context, post forge.Post) error {
	cols, err := encodePostJSON(post)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE posts SET
	section = $1, categories = $2, tags = $3, title = $4, description = $5,
	headline = $6, lead = $7, body_mdx = $8, geo_focus = $9, faq = $10,
	citations = $11, payload = $12, updated_at = $13
WHERE id = $14`,
		post.Section, cols.categories, cols.tags, post.Title, post.Description,
		post.Headline, post.Lead, post.BodyMDX, cols.geoFocus, cols.faq,
		cols.citations, payloadArg(post.Payload), s.now(), post.ID,
	)
	if err != nil {
		return fmt.Errorf("update post %d: %w", post.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update post %d: %w", post.ID, forge.ErrNotFound)
	}
	return nil
}

// GetPost loads a post by id.
func (s *PostStore) GetPost(ctx context.Context, id int64) (forge.Post, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

// GetPostBySlug loads a post by slug.
func (s *PostStore) GetPostBySlug(ctx context.Context, slug string) (forge.Post, error) {
	return s.getOne(ctx, sq.Eq{"slug": slug})
}

// FindBySourceKey loads the post generated from a source key.
func (s *PostStore) FindBySourceKey(ctx context.Context, key string) (forge.Post, error) {
	if key == "" {
		return forge.Post{}, forge.ErrNotFound
	}
	return s.getOne(ctx, sq.Eq{"source_key": key})
}

func (s *PostStore) getOne(ctx context.Context, where sq.Eq) (forge.Post, error) {
	query, args, err := psql.Select(postColumns...).From("posts").Where(where).Limit(1).ToSql()
	if err != nil {
		return forge.Post{}, fmt.Errorf("build post query: %w", err)
	}
	post, err := scanPost(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return forge.Post{}, forge.ErrNotFound
	}
	if err != nil {
		return forge.Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// ListSlugs returns every slug in use.
func (s *PostStore) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT slug FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("list slugs: %w", err)
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// ListSectionPosts returns the most recently updated posts of a section.
func (s *PostStore) ListSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error) {
	return s.summaries(ctx, `SELECT `+summaryColumns+` FROM posts
WHERE section = $1 AND slug <> $2
ORDER BY updated_at DESC, id DESC
LIMIT $3`, section, excludeSlug, limit)
}

// ListOtherSectionPosts returns a random sample of posts outside section.
func (s *PostStore) ListOtherSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error) {
	return s.summaries(ctx, `SELECT `+summaryColumns+` FROM posts
WHERE section <> $1 AND slug <> $2
ORDER BY random()
LIMIT $3`, section, excludeSlug, limit)
}

func (s *PostStore) summaries(ctx context.Context, query string, args ...any) ([]forge.PostSummary, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list post summaries: %w", err)
	}
	defer rows.Close()
	var out []forge.PostSummary
	for rows.Next() {
		var p forge.PostSummary
		if err := rows.Scan(&p.Slug, &p.Section, &p.Title, &p.Headline, &p.Lead, &p.Description, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan post summary: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStalePosts returns posts with a payload created before createdBefore,
// oldest first, skipping the first offset matches.
func (s *PostStore) ListStalePosts(ctx context.Context, createdBefore time.Time, offset, limit int) ([]forge.Post, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	builder := psql.Select(postColumns...).
		From("posts").
		Where(sq.Lt{"created_at": createdBefore}).
		Where("payload IS NOT NULL").
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit))
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale post query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale posts: %w", err)
	}
	defer rows.Close()
	var posts []forge.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func scanPost(row scanner) (forge.Post, error) {
	var p forge.Post
	var sourceKey pgtype.Text
	var categories, tags, geo, faq, cites, payload []byte
	err := row.Scan(
		&p.ID, &p.Slug, &sourceKey, &p.Locale, &p.Section, &categories, &tags,
		&p.Title, &p.Description, &p.Canonical, &p.Robots, &p.Headline, &p.Lead, &p.BodyMDX,
		&geo, &faq, &cites, &payload, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return forge.Post{}, err
	}
	p.SourceKey = sourceKey.String
	if len(payload) > 0 {
		p.Payload = json.RawMessage(payload)
	}
	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"categories", categories, &p.Categories},
		{"tags", tags, &p.Tags},
		{"geo_focus", geo, &p.GeoFocus},
		{"faq", faq, &p.FAQ},
		{"citations", cites, &p.Citations},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return forge.Post{}, fmt.Errorf("decode %s: %w", col.name, err)
		}
	}
	return p, nil
}
