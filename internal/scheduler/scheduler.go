// Package scheduler runs the periodic maintenance jobs: kicking the queue
// runner when it is idle and sending stale posts through the enhancer.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/enhancer"
	"github.com/JakeFAU/article-forge/internal/runner"
)

// Job names.
const (
	JobRunnerKick = "runner_kick"
	JobEnhancer   = "enhancer"
)

const defaultEnhancerTimeout = 30 * time.Minute

// Config holds the cron specs. An empty spec disables the job.
type Config struct {
	RunnerSpec      string        `mapstructure:"runner_spec"`
	EnhancerSpec    string        `mapstructure:"enhancer_spec"`
	EnhancerLimit   int           `mapstructure:"enhancer_limit"`
	EnhancerTimeout time.Duration `mapstructure:"enhancer_timeout"`
	Timezone        string        `mapstructure:"timezone"`
}

// Starter starts the queue runner if no loop is alive.
type Starter interface {
	Start(ctx context.Context) (*runner.Handle, bool)
}

// Batcher runs one enhancer batch.
type Batcher interface {
	RunBatch(ctx context.Context, limit int) (enhancer.Report, error)
}

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler wraps a cron instance.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	batcher Batcher
	cfg     Config
	logger  *zap.Logger
	entries map[string]cron.EntryID
	specs   map[string]string
	mu      sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	started bool
}

// New registers the configured jobs. starter or batcher may be nil, which
// disables the matching job regardless of its spec.
func New(cfg Config, starter Starter, batcher Batcher, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnhancerTimeout <= 0 {
		cfg.EnhancerTimeout = defaultEnhancerTimeout
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		starter: starter,
		batcher: batcher,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		base:    context.Background(),
	}
	if starter != nil && cfg.RunnerSpec != "" {
		if err := s.add(JobRunnerKick, cfg.RunnerSpec, s.kickRunner); err != nil {
			return nil, err
		}
	}
	if batcher != nil && cfg.EnhancerSpec != "" {
		if err := s.add(JobEnhancer, cfg.EnhancerSpec, s.runEnhancer); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.entries[name] = id
	s.specs[name] = spec
	return nil
}

// Start begins firing jobs. Jobs run on a context derived from ctx without
// its cancellation; Stop cancels it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop halts the cron loop and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Entries lists the registered jobs by name.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Name: name, Spec: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Scheduler) kickRunner() {
	h, started := s.starter.Start(s.jobContext())
	if started {
		s.logger.Info("runner kicked")
		return
	}
	if h != nil {
		s.logger.Debug("runner already active", zap.Int64("processed", h.Processed()))
	}
}

func (s *Scheduler) runEnhancer() {
	ctx, cancel := context.WithTimeout(s.jobContext(), s.cfg.EnhancerTimeout)
	defer cancel()
	report, err := s.batcher.RunBatch(ctx, s.cfg.EnhancerLimit)
	if err != nil {
		s.logger.Error("enhancer batch failed", zap.Error(err))
		return
	}
	s.logger.Info("enhancer batch finished",
		zap.Int("visited", report.Visited),
		zap.Int("enhanced", report.Enhanced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
