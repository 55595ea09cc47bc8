// Package poller implements the submit, poll, fetch loop shared by every
// provider integration. A Poller enforces a wall-clock budget across the
// whole run and a separate per-request timeout on each call.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
)

// ErrBudgetExceeded is wrapped by the timeout failure returned from Run.
var ErrBudgetExceeded = errors.New("poll budget exceeded")

const (
	defaultBudget         = 120 * time.Second
	defaultInterval       = 1500 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
)

// DefaultSuccessStates are matched case-insensitively.
var DefaultSuccessStates = []string{"completed", "succeeded", "success", "finished"}

// DefaultFailureStates are matched case-insensitively.
var DefaultFailureStates = []string{"failed", "error", "cancelled", "canceled"}

// Phase is the classification of a provider status string.
type Phase int

// Status phases.
const (
	PhasePending Phase = iota
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Config controls budget and status vocabulary.
type Config struct {
	Budget         time.Duration
	Interval       time.Duration
	RequestTimeout time.Duration
	SuccessStates  []string
	FailureStates  []string
}

// Submission is what a start call returns. Payload is set when the provider
// answered synchronously.
type Submission struct {
	RunID   string
	Status  string
	Message string
	Payload json.RawMessage
}

// Status is one poll response. Payload carries terminal content when the
// provider embeds it in the status response.
type Status struct {
	State   string
	Message string
	Payload json.RawMessage
}

// Task bundles the provider-specific operations. Fetch is optional and only
// used when a successful status did not embed the payload.
type Task struct {
	Name  string
	Start func(ctx context.Context) (Submission, error)
	Poll  func(ctx context.Context, runID string) (Status, error)
	Fetch func(ctx context.Context, runID string) (json.RawMessage, error)
}

// Result is the successful outcome of Run.
type Result struct {
	RunID   string
	State   string
	Payload json.RawMessage
	Polls   int
	Elapsed time.Duration
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Poller.
type Option func(*Poller)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithSleep overrides the sleep implementation.
func WithSleep(fn SleepFunc) Option {
	return func(p *Poller) {
		p.sleep = fn
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// Poller runs Tasks under a time budget.
type Poller struct {
	cfg     Config
	success map[string]struct{}
	failure map[string]struct{}
	clock   Clock
	sleep   SleepFunc
	logger  *zap.Logger
}

// New constructs a Poller, applying defaults for zero config values.
func New(cfg Config, opts ...Option) *Poller {
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.SuccessStates) == 0 {
		cfg.SuccessStates = DefaultSuccessStates
	}
	if len(cfg.FailureStates) == 0 {
		cfg.FailureStates = DefaultFailureStates
	}
	p := &Poller{
		cfg:     cfg,
		success: toSet(cfg.SuccessStates),
		failure: toSet(cfg.FailureStates),
		clock:   realClock{},
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Classify maps a provider status to a phase. A missing status with content
// counts as success because some providers drop the field once done.
func (p *Poller) Classify(state string, hasPayload bool) Phase {
	s := strings.ToLower(strings.TrimSpace(state))
	if s == "" {
		if hasPayload {
			return PhaseSucceeded
		}
		return PhasePending
	}
	if _, ok := p.success[s]; ok {
		return PhaseSucceeded
	}
	if _, ok := p.failure[s]; ok {
		return PhaseFailed
	}
	return PhasePending
}

// Run submits the task and polls until a terminal status or until the budget
// is spent. It never returns a partial result on timeout.
func (p *Poller) Run(ctx context.Context, task Task) (Result, error) {
	op := "poll " + task.Name
	if task.Start == nil || task.Poll == nil {
		return Result{}, forge.E(forge.KindConfig, op, "start and poll functions are required", nil)
	}
	started := p.clock.Now()
	deadline := started.Add(p.cfg.Budget)

	var sub Submission
	err := p.call(ctx, func(callCtx context.Context) error {
		var startErr error
		sub, startErr = task.Start(callCtx)
		return startErr
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{RunID: sub.RunID, State: sub.Status}
	switch p.Classify(sub.Status, len(sub.Payload) > 0) {
	case PhaseSucceeded:
		return p.finish(ctx, task, result, sub.Payload, started)
	case PhaseFailed:
		return Result{}, p.failed(op, sub.Status, sub.Message)
	}
	if sub.RunID == "" {
		return Result{}, forge.E(forge.KindTransport, op, "provider returned neither a run id nor a result", nil)
	}

	for {
		if !p.clock.Now().Before(deadline) {
			return Result{}, p.timeout(op, result.Polls)
		}
		var st Status
		err := p.call(ctx, func(callCtx context.Context) error {
			var pollErr error
			st, pollErr = task.Poll(callCtx, sub.RunID)
			return pollErr
		})
		result.Polls++
		if err != nil {
			metrics.ObservePoll(task.Name, "error")
			return Result{}, err
		}
		result.State = st.State
		phase := p.Classify(st.State, len(st.Payload) > 0)
		metrics.ObservePoll(task.Name, phase.String())
		switch phase {
		case PhaseSucceeded:
			return p.finish(ctx, task, result, st.Payload, started)
		case PhaseFailed:
			return Result{}, p.failed(op, st.State, st.Message)
		}

		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return Result{}, p.timeout(op, result.Polls)
		}
		wait := min(p.cfg.Interval, remaining)
		p.logger.Debug("poll pending",
			zap.String("task", task.Name),
			zap.String("run_id", sub.RunID),
			zap.String("state", st.State),
			zap.Duration("wait", wait),
		)
		if err := p.sleep(ctx, wait); err != nil {
			return Result{}, contextFailure(op, err)
		}
	}
}

func (p *Poller) finish(
	ctx context.Context,
	task Task,
	result Result,
	payload json.RawMessage,
	started time.Time,
) (Result, error) {
	if len(payload) == 0 && task.Fetch != nil {
		err := p.call(ctx, func(callCtx context.Context) error {
			var fetchErr error
			payload, fetchErr = task.Fetch(callCtx, result.RunID)
			return fetchErr
		})
		if err != nil {
			return Result{}, err
		}
	}
	result.Payload = payload
	result.Elapsed = p.clock.Now().Sub(started)
	return result, nil
}

// call applies the per-request timeout, which is independent of the budget.
func (p *Poller) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return fn(callCtx)
}

func (p *Poller) failed(op, state, message string) error {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = fmt.Sprintf("provider returned status %s", state)
	}
	return forge.E(forge.KindGenerationFailed, op, forge.Truncate(msg, 300), nil)
}

func (p *Poller) timeout(op string, polls int) error {
	return forge.E(
		forge.KindTimeout,
		op,
		fmt.Sprintf("no terminal status after %d polls within %s", polls, p.cfg.Budget),
		ErrBudgetExceeded,
	)
}

func contextFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return forge.E(forge.KindTimeout, op, "context deadline exceeded", err)
	}
	return forge.E(forge.KindInternal, op, "interrupted", err)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
