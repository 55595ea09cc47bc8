package forge

import (
	"context"
	"time"
)

// JobStore persists generation jobs. ClaimNextPending must move the oldest
// pending job to running in a single transaction.
type JobStore interface {
	EnqueueJob(ctx context.Context, url string, at time.Time) (Job, error)
	ClaimNextPending(ctx context.Context, at time.Time) (Job, error)
	FinishJob(ctx context.Context, outcome JobOutcome) error
	GetJob(ctx context.Context, id int64) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// PostStore persists article posts.
type PostStore interface {
	// SavePost inserts the post. When outcome is non-nil the owning job is
	// finished in the same transaction with the new post id.
	SavePost(ctx context.Context, post Post, outcome *JobOutcome) (Post, error)
	UpdatePost(ctx context.Context, post Post) error
	GetPostBySlug(ctx context.Context, slug string) (Post, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	FindBySourceKey(ctx context.Context, key string) (Post, error)
	ListSlugs(ctx context.Context) ([]string, error)
	ListSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]PostSummary, error)
	ListOtherSectionPosts(ctx context.Context, section, excludeSlug string, limit int) ([]PostSummary, error)
	// ListStalePosts pages through posts with a payload created before
	// createdBefore, oldest first.
	ListStalePosts(ctx context.Context, createdBefore time.Time, offset, limit int) ([]Post, error)
}

// BlobStore archives article payloads and exports. PutObject overwrites and
// returns a URI; GetObject fails with ErrNotFound for a missing path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes article events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for source keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
