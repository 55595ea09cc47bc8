// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// JobStore keeps generation jobs in memory.
type JobStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]forge.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]forge.Job)}
}

// EnqueueJob stores a new pending job.
func (s *JobStore) EnqueueJob(_ context.Context, url string, at time.Time) (forge.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job := forge.Job{ID: s.nextID, URL: strings.TrimSpace(url), Status: forge.JobStatusPending, CreatedAt: at}
	s.jobs[job.ID] = job
	return job, nil
}

// ClaimNextPending moves the oldest pending job to running.
func (s *JobStore) ClaimNextPending(_ context.Context, at time.Time) (forge.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		oldest forge.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.Status != forge.JobStatusPending {
			continue
		}
		if !found || job.CreatedAt.Before(oldest.CreatedAt) ||
			(job.CreatedAt.Equal(oldest.CreatedAt) && job.ID < oldest.ID) {
			oldest, found = job, true
		}
	}
	if !found {
		return forge.Job{}, forge.ErrNoPendingJob
	}
	oldest.Status = forge.JobStatusRunning
	oldest.StartedAt = pointerTime(at)
	s.jobs[oldest.ID] = oldest
	return cloneJob(oldest), nil
}

// FinishJob records a terminal outcome on a non-terminal job.
func (s *JobStore) FinishJob(_ context.Context, outcome forge.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(outcome)
}

func (s *JobStore) finishLocked(outcome forge.JobOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish job %d: status %q is not terminal", outcome.JobID, outcome.Status)
	}
	job, ok := s.jobs[outcome.JobID]
	if !ok || job.Status.IsTerminal() {
		return fmt.Errorf("finish job %d: %w", outcome.JobID, forge.ErrNotFound)
	}
	job.Status = outcome.Status
	job.Error = nil
	if outcome.Error != "" {
		msg := forge.Truncate(outcome.Error, 500)
		job.Error = &msg
	}
	job.ArticleID = nil
	if outcome.ArticleID != nil {
		id := *outcome.ArticleID
		job.ArticleID = &id
	}
	job.FinishedAt = pointerTime(outcome.FinishedAt)
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, id int64) (forge.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return forge.Job{}, forge.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, filter forge.JobFilter) ([]forge.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]forge.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []forge.Job{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneJob(job forge.Job) forge.Job {
	if job.Error != nil {
		msg := *job.Error
		job.Error = &msg
	}
	if job.ArticleID != nil {
		id := *job.ArticleID
		job.ArticleID = &id
	}
	if job.StartedAt != nil {
		job.StartedAt = pointerTime(*job.StartedAt)
	}
	if job.FinishedAt != nil {
		job.FinishedAt = pointerTime(*job.FinishedAt)
	}
	return job
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
