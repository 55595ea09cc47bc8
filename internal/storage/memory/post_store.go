package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// PostStore keeps posts in memory. It finishes jobs through the JobStore it
// was built with so SavePost stays atomic with respect to both.
type PostStore struct {
	mu      sync.Mutex
	jobs    *JobStore
	nextID  int64
	posts   map[int64]forge.Post
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// PostOption customizes a PostStore.
type PostOption func(*PostStore)

// WithNow overrides the timestamp source.
func WithNow(fn func() time.Time) PostOption {
	return func(s *PostStore) {
		s.now = fn
	}
}

// WithShuffle overrides the shuffle used for cross-section samples.
func WithShuffle(fn func(n int, swap func(i, j int))) PostOption {
	return func(s *PostStore) {
		s.shuffle = fn
	}
}

// NewPostStore constructs a PostStore. jobs may be nil when no job is ever
// finished through SavePost.
func NewPostStore(jobs *JobStore, opts ...PostOption) *PostStore {
	s := &PostStore{
		jobs:    jobs,
		posts:   make(map[int64]forge.Post),
		now:     func() time.Time { return time.Now().UTC() },
		shuffle: rand.Shuffle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SavePost inserts the post, enforcing unique slug and source key, and
// finishes the owning job as done when outcome is set.
func (s *PostStore) SavePost(_ context.Context, post forge.Post, outcome *forge.JobOutcome) (forge.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.posts {
		if existing.Slug == post.Slug {
			return forge.Post{}, fmt.Errorf("insert post %q: slug already exists", post.Slug)
		}
		if post.SourceKey != "" && existing.SourceKey == post.SourceKey {
			return forge.Post{}, fmt.Errorf("insert post %q: source key already exists", post.Slug)
		}
	}
	now := s.now()
	post.ID = s.nextID + 1
	post.CreatedAt = now
	post.UpdatedAt = now

	if outcome != nil {
		if s.jobs == nil {
			return forge.Post{}, fmt.Errorf("insert post %q: no job store", post.Slug)
		}
		done := *outcome
		done.Status = forge.JobStatusDone
		done.ArticleID = &post.ID
		if done.FinishedAt.IsZero() {
			done.FinishedAt = now
		}
		s.jobs.mu.Lock()
		err := s.jobs.finishLocked(done)
		s.jobs.mu.Unlock()
		if err != nil {
			return forge.Post{}, err
		}
	}
	s.nextID = post.ID
	s.posts[post.ID] = clonePost(post)
	return post, nil
}

// UpdatePost replaces the stored post with the same id.
func (s *PostStore) UpdatePost(_ context.Context, post forge.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.posts[post.ID]
	if !ok {
		return fmt.Errorf("update post %d: %w", post.ID, forge.ErrNotFound)
	}
	post.Slug = existing.Slug
	post.SourceKey = existing.SourceKey
	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = s.now()
	s.posts[post.ID] = clonePost(post)
	return nil
}

// GetPost loads a post by id.
func (s *PostStore) GetPost(_ context.Context, id int64) (forge.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return forge.Post{}, forge.ErrNotFound
	}
	return clonePost(post), nil
}

// GetPostBySlug loads a post by slug.
func (s *PostStore) GetPostBySlug(_ context.Context, slug string) (forge.Post, error) {
	return s.find(func(p forge.Post) bool { return p.Slug == slug })
}

// FindBySourceKey loads the post generated from key.
func (s *PostStore) FindBySourceKey(_ context.Context, key string) (forge.Post, error) {
	if key == "" {
		return forge.Post{}, forge.ErrNotFound
	}
	return s.find(func(p forge.Post) bool { return p.SourceKey == key })
}

func (s *PostStore) find(match func(forge.Post) bool) (forge.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if match(p) {
			return clonePost(p), nil
		}
	}
	return forge.Post{}, forge.ErrNotFound
}

// ListSlugs returns all slugs in id order.
func (s *PostStore) ListSlugs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := s.sortedLocked()
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Slug)
	}
	return out, nil
}

// ListSectionPosts returns the most recently updated posts of section.
func (s *PostStore) ListSectionPosts(_ context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []forge.Post
	for _, p := range s.sortedLocked() {
		if p.Section == section && p.Slug != excludeSlug {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return summarize(matched, limit), nil
}

// ListOtherSectionPosts returns a shuffled sample of posts outside section.
func (s *PostStore) ListOtherSectionPosts(_ context.Context, section, excludeSlug string, limit int) ([]forge.PostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []forge.Post
	for _, p := range s.sortedLocked() {
		if p.Section != section && p.Slug != excludeSlug {
			matched = append(matched, p)
		}
	}
	s.shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
	return summarize(matched, limit), nil
}

// ListStalePosts returns posts with a payload created before createdBefore,
// oldest first, skipping the first offset matches.
func (s *PostStore) ListStalePosts(_ context.Context, createdBefore time.Time, offset, limit int) ([]forge.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []forge.Post
	for _, p := range s.sortedLocked() {
		if len(p.Payload) == 0 || !p.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, clonePost(p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset > 0 {
		out = out[min(offset, len(out)):]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PostStore) sortedLocked() []forge.Post {
	out := make([]forge.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func summarize(posts []forge.Post, limit int) []forge.PostSummary {
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	out := make([]forge.PostSummary, 0, len(posts))
	for _, p := range posts {
		out = append(out, forge.PostSummary{
			Slug:        p.Slug,
			Section:     p.Section,
			Title:       p.Title,
			Headline:    p.Headline,
			Lead:        p.Lead,
			Description: p.Description,
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return out
}

func clonePost(p forge.Post) forge.Post {
	p.Categories = append([]string(nil), p.Categories...)
	p.Tags = append([]string(nil), p.Tags...)
	p.GeoFocus = append([]string(nil), p.GeoFocus...)
	p.FAQ = append([]forge.FAQItem(nil), p.FAQ...)
	p.Citations = append([]string(nil), p.Citations...)
	p.Payload = append([]byte(nil), p.Payload...)
	return p
}
