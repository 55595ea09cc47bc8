package forge

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusSkipped JobStatus = "skipped"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusSkipped, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s.IsTerminal()
}

// Job is one queued "generate an article for this URL" request.
type Job struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Status     JobStatus  `json:"status"`
	Error      *string    `json:"error,omitempty"`
	ArticleID  *int64     `json:"article_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobOutcome is the terminal state recorded for a job.
type JobOutcome struct {
	JobID      int64
	Status     JobStatus
	Error      string
	ArticleID  *int64
	FinishedAt time.Time
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// FAQItem is a single question/answer pair stored on a post.
type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Post is the persisted projection of an article document. Payload holds the
// full document and is authoritative on read-back; the other columns exist for
// querying.
type Post struct {
	ID          int64           `json:"id"`
	Slug        string          `json:"slug"`
	SourceKey   string          `json:"source_key,omitempty"`
	Locale      string          `json:"locale"`
	Section     string          `json:"section"`
	Categories  []string        `json:"categories"`
	Tags        []string        `json:"tags"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Canonical   string          `json:"canonical"`
	Robots      string          `json:"robots"`
	Headline    string          `json:"headline"`
	Lead        string          `json:"lead"`
	BodyMDX     string          `json:"body_mdx"`
	GeoFocus    []string        `json:"geo_focus"`
	FAQ         []FAQItem       `json:"faq"`
	Citations   []string        `json:"citations"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PostSummary is the subset of a post needed for recommendations.
type PostSummary struct {
	Slug        string
	Section     string
	Title       string
	Headline    string
	Lead        string
	Description string
	UpdatedAt   time.Time
}

// SourceCandidate is a research or citation source considered while
// assembling a document. It is never persisted on its own.
type SourceCandidate struct {
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// ArticleEvent is published after a post has been stored.
type ArticleEvent struct {
	PostID    int64     `json:"post_id"`
	Slug      string    `json:"slug"`
	Canonical string    `json:"canonical"`
	Section   string    `json:"section"`
	SourceURL string    `json:"source_url,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	Archive   []string  `json:"archive,omitempty"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}
