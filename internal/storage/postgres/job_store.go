package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/article-forge/internal/forge"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxJobError      = 500
)

var jobColumns = []string{"id", "url", "status", "error", "article_id", "created_at", "started_at", "finished_at"}

// JobStore persists generation jobs in the generation_jobs table.
type JobStore struct {
	db DB
}

// NewJobStore builds a JobStore on an existing pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db}, nil
}

// EnqueueJob inserts a pending job.
func (s *JobStore) EnqueueJob(ctx context.Context, url string, at time.Time) (forge.Job, error) {
	job := forge.Job{URL: strings.TrimSpace(url), Status: forge.JobStatusPending, CreatedAt: at}
	err := s.db.QueryRow(ctx,
		`INSERT INTO generation_jobs (url, status, created_at) VALUES ($1, $2, $3) RETURNING id`,
		job.URL, string(job.Status), at,
	).Scan(&job.ID)
	if err != nil {
		return forge.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ClaimNextPending moves the oldest pending job to running inside one
// transaction. Concurrent claimers skip rows locked by each other.
func (s *JobStore) ClaimNextPending(ctx context.Context, at time.Time) (forge.Job, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return forge.Job{}, fmt.Errorf("begin claim: %w", err)
	}
	defer rollback(ctx, tx)

	job := forge.Job{Status: forge.JobStatusRunning}
	err = tx.QueryRow(ctx, `SELECT id, url, created_at FROM generation_jobs
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED`).Scan(&job.ID, &job.URL, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return forge.Job{}, forge.ErrNoPendingJob
	}
	if err != nil {
		return forge.Job{}, fmt.Errorf("select pending job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE generation_jobs SET status = 'running', started_at = $1 WHERE id = $2`,
		at, job.ID,
	); err != nil {
		return forge.Job{}, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return forge.Job{}, fmt.Errorf("commit claim: %w", err)
	}
	started := at
	job.StartedAt = &started
	return job, nil
}

// FinishJob records a terminal outcome. Jobs that are already terminal are
// left untouched and reported as not found.
func (s *JobStore) FinishJob(ctx context.Context, outcome forge.JobOutcome) error {
	return finishJob(ctx, s.db, outcome)
}

func finishJob(ctx context.Context, q querier, outcome forge.JobOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish job %d: status %q is not terminal", outcome.JobID, outcome.Status)
	}
	tag, err := q.Exec(ctx, `UPDATE generation_jobs
SET status = $1, error = $2, article_id = $3, finished_at = $4
WHERE id = $5 AND status IN ('pending', 'running')`,
		string(outcome.Status),
		textOrNull(forge.Truncate(outcome.Error, maxJobError)),
		int8OrNull(outcome.ArticleID),
		outcome.FinishedAt,
		outcome.JobID,
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", outcome.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %d: %w", outcome.JobID, forge.ErrNotFound)
	}
	return nil
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, id int64) (forge.Job, error) {
	query, args, err := psql.Select(jobColumns...).From("generation_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return forge.Job{}, fmt.Errorf("build job query: %w", err)
	}
	job, err := scanJob(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return forge.Job{}, forge.ErrNotFound
	}
	if err != nil {
		return forge.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter forge.JobFilter) ([]forge.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	builder := psql.Select(jobColumns...).
		From("generation_jobs").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if filter.Status != nil {
		builder = builder.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job list query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []forge.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (forge.Job, error) {
	var (
		job       forge.Job
		status    string
		errText   pgtype.Text
		articleID pgtype.Int8
		started   pgtype.Timestamptz
		finished  pgtype.Timestamptz
	)
	if err := row.Scan(&job.ID, &job.URL, &status, &errText, &articleID, &job.CreatedAt, &started, &finished); err != nil {
		return forge.Job{}, err
	}
	job.Status = forge.JobStatus(status)
	job.Error = textPtr(errText)
	job.ArticleID = int8Ptr(articleID)
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	return job, nil
}
