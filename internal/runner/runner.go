// Package runner drains the generation queue with a single background loop.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
	"github.com/JakeFAU/article-forge/internal/pipeline"
)

const (
	maxErrorChars     = 500
	defaultJobTimeout = 15 * time.Minute
	missingURL        = "missing url"
)

// Generator turns a queued URL into a stored article.
type Generator interface {
	FromURL(ctx context.Context, req pipeline.URLRequest) (pipeline.Result, error)
}

// Config tunes the runner.
type Config struct {
	Language   string        `mapstructure:"language"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// Runner owns at most one live loop.
type Runner struct {
	jobs   forge.JobStore
	gen    Generator
	clock  forge.Clock
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	current *Handle
}

// New builds a Runner.
func New(jobs forge.JobStore, gen Generator, clock forge.Clock, cfg Config, logger *zap.Logger) *Runner {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{jobs: jobs, gen: gen, clock: clock, cfg: cfg, logger: logger}
}

// Handle observes and controls one loop.
type Handle struct {
	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	processed atomic.Int64
}

func newHandle(at time.Time) *Handle {
	return &Handle{startedAt: at, stop: make(chan struct{}), done: make(chan struct{})}
}

// Stop asks the loop to exit. The job in flight is finished first.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Stopping reports whether Stop was called.
func (h *Handle) Stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Running reports whether the loop is still alive.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the loop exits or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processed is the number of jobs the loop has taken to a terminal state.
func (h *Handle) Processed() int64 {
	return h.processed.Load()
}

// StartedAt is when the loop was started.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Start spawns the loop unless one is alive, in which case the live handle is
// returned with false. The loop runs on a context detached from ctx: callers
// stop it with Handle.Stop, not by cancelling.
func (r *Runner) Start(ctx context.Context) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.Running() {
		return r.current, false
	}
	h := newHandle(r.clock.Now())
	r.current = h
	go r.loop(context.WithoutCancel(ctx), h)
	r.logger.Info("runner started")
	return h, true
}

// Current returns the most recent handle, live or not.
func (r *Runner) Current() (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != nil
}

// Stop requests termination of the live loop and reports whether one was
// running.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || !r.current.Running() {
		return false
	}
	r.current.Stop()
	r.logger.Info("runner stop requested")
	return true
}

func (r *Runner) loop(ctx context.Context, h *Handle) {
	metrics.SetRunnerActive(true)
	defer func() {
		metrics.SetRunnerActive(false)
		close(h.done)
		r.logger.Info("runner stopped", zap.Int64("processed", h.Processed()))
	}()
	for {
		if h.Stopping() {
			return
		}
		job, err := r.jobs.ClaimNextPending(ctx, r.clock.Now())
		if errors.Is(err, forge.ErrNoPendingJob) {
			r.logger.Info("queue drained")
			return
		}
		if err != nil {
			r.logger.Error("claim next job", zap.Error(err))
			return
		}
		r.process(ctx, job)
		h.processed.Add(1)
		if h.Stopping() {
			return
		}
	}
}

func (r *Runner) process(ctx context.Context, job forge.Job) {
	started := r.clock.Now()
	log := r.logger.With(zap.Int64("job_id", job.ID), zap.String("url", job.URL))
	log.Info("job started")

	outcome, settled := r.run(ctx, job, log)
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = r.clock.Now()
	}
	if !settled {
		if err := r.jobs.FinishJob(ctx, outcome); err != nil {
			log.Error("record job outcome", zap.String("status", string(outcome.Status)), zap.Error(err))
		}
	}
	elapsed := outcome.FinishedAt.Sub(started)
	metrics.ObserveJob(string(outcome.Status), elapsed)

	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Float64("secs", elapsed.Seconds()),
	}
	switch outcome.Status {
	case forge.JobStatusDone:
		log.Info("job done", append(fields, zap.Int64p("article_id", outcome.ArticleID))...)
	case forge.JobStatusSkipped:
		log.Warn("job skipped", append(fields, zap.String("reason", outcome.Error))...)
	default:
		log.Warn("job failed", append(fields, zap.String("error", outcome.Error))...)
	}
}

// run executes the job and maps the result to an outcome. settled is true
// when the pipeline already recorded the outcome in its own transaction.
func (r *Runner) run(ctx context.Context, job forge.Job, log *zap.Logger) (forge.JobOutcome, bool) {
	outcome := forge.JobOutcome{JobID: job.ID}
	if job.URL == "" {
		outcome.Status = forge.JobStatusSkipped
		outcome.Error = missingURL
		return outcome, false
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()
	res, err := r.gen.FromURL(jobCtx, pipeline.URLRequest{URL: job.URL, JobID: job.ID, Language: r.cfg.Language})
	if err != nil {
		outcome.Status = Classify(err)
		outcome.Error = forge.Truncate(err.Error(), maxErrorChars)
		return outcome, false
	}
	if res.Reused {
		log.Info("source already published, reusing post", zap.String("slug", res.Post.Slug))
	}
	id := res.Post.ID
	outcome.Status = forge.JobStatusDone
	outcome.ArticleID = &id
	return outcome, res.JobSettled
}

// Classify maps a generation error to the terminal job status. Only unusable
// source material skips a job; a provider 404 outside the transcript boundary
// is a misconfiguration and fails it.
func Classify(err error) forge.JobStatus {
	switch forge.KindOf(err) {
	case forge.KindInsufficientInput:
		return forge.JobStatusSkipped
	default:
		return forge.JobStatusFailed
	}
}
