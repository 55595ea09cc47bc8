package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-forge/internal/forge"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.advance(d)
	return nil
}

func newTestPoller(clock *fakeClock, cfg Config) *Poller {
	return New(cfg, WithClock(clock), WithSleep(clock.Sleep))
}

func started(runID string) func(context.Context) (Submission, error) {
	return func(context.Context) (Submission, error) {
		return Submission{RunID: runID, Status: "queued"}, nil
	}
}

func TestRunSucceedsAfterPendingPolls(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{Budget: time.Minute, Interval: 2 * time.Second})
	states := []string{"queued", "in_progress", "COMPLETED"}
	calls := 0

	res, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-1"),
		Poll: func(_ context.Context, runID string) (Status, error) {
			require.Equal(t, "run-1", runID)
			st := states[calls]
			calls++
			return Status{State: st}, nil
		},
		Fetch: func(_ context.Context, runID string) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	})

	require.NoError(t, err)
	require.Equal(t, 3, res.Polls)
	require.Equal(t, "COMPLETED", res.State)
	require.JSONEq(t, `{"ok":true}`, string(res.Payload))
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
	require.Equal(t, 4*time.Second, res.Elapsed)
}

func TestRunTreatsMissingStatusWithContentAsSuccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{Budget: time.Minute, Interval: time.Second})
	fetched := false

	res, err := p.Run(context.Background(), Task{
		Name:  "transcript",
		Start: started("job-9"),
		Poll: func(context.Context, string) (Status, error) {
			return Status{Payload: json.RawMessage(`{"content":"hello"}`)}, nil
		},
		Fetch: func(context.Context, string) (json.RawMessage, error) {
			fetched = true
			return nil, nil
		},
	})

	require.NoError(t, err)
	require.False(t, fetched)
	require.JSONEq(t, `{"content":"hello"}`, string(res.Payload))
}

func TestRunReturnsSynchronousStartPayload(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{})

	res, err := p.Run(context.Background(), Task{
		Name: "asr",
		Start: func(context.Context) (Submission, error) {
			return Submission{Payload: json.RawMessage(`{"text":"done"}`)}, nil
		},
		Poll: func(context.Context, string) (Status, error) {
			t.Fatal("poll must not be called")
			return Status{}, nil
		},
	})

	require.NoError(t, err)
	require.Zero(t, res.Polls)
	require.JSONEq(t, `{"text":"done"}`, string(res.Payload))
}

func TestRunFailureTerminalCarriesUpstreamMessage(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{FailureStates: []string{"failed", "expired"}})

	_, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-2"),
		Poll: func(context.Context, string) (Status, error) {
			return Status{State: "failed", Message: "rate limit reached"}, nil
		},
	})
	require.Error(t, err)
	require.Equal(t, forge.KindGenerationFailed, forge.KindOf(err))
	require.Contains(t, err.Error(), "rate limit reached")

	_, err = p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-3"),
		Poll: func(context.Context, string) (Status, error) {
			return Status{State: "Expired"}, nil
		},
	})
	require.Equal(t, forge.KindGenerationFailed, forge.KindOf(err))
	require.Contains(t, err.Error(), "provider returned status Expired")
}

func TestRunTimesOutWithoutPollingPastBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	budget := 5 * time.Second
	p := newTestPoller(clock, Config{Budget: budget, Interval: 2 * time.Second})
	begin := clock.Now()
	var pollTimes []time.Time

	_, err := p.Run(context.Background(), Task{
		Name:  "research",
		Start: started("run-4"),
		Poll: func(context.Context, string) (Status, error) {
			pollTimes = append(pollTimes, clock.Now())
			return Status{State: "running"}, nil
		},
	})

	require.Error(t, err)
	require.Equal(t, forge.KindTimeout, forge.KindOf(err))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Len(t, pollTimes, 3)
	for _, at := range pollTimes {
		require.True(t, at.Before(begin.Add(budget)), "poll at %s started after budget", at)
	}
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, time.Second}, clock.sleeps)
	require.Equal(t, begin.Add(budget), clock.Now())
}

func TestRunTimesOutWhenPollConsumesBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{Budget: 3 * time.Second, Interval: time.Second})

	_, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-5"),
		Poll: func(context.Context, string) (Status, error) {
			clock.advance(4 * time.Second)
			return Status{State: "in_progress"}, nil
		},
	})

	require.Equal(t, forge.KindTimeout, forge.KindOf(err))
	require.Empty(t, clock.sleeps)
}

func TestRunAppliesPerRequestTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{Budget: time.Hour, RequestTimeout: 250 * time.Millisecond})

	_, err := p.Run(context.Background(), Task{
		Name: "writer",
		Start: func(ctx context.Context) (Submission, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			require.LessOrEqual(t, time.Until(deadline), 250*time.Millisecond)
			return Submission{RunID: "run-6"}, nil
		},
		Poll: func(ctx context.Context, _ string) (Status, error) {
			_, ok := ctx.Deadline()
			require.True(t, ok)
			return Status{State: "succeeded", Payload: json.RawMessage(`{}`)}, nil
		},
	})
	require.NoError(t, err)
}

func TestRunPropagatesStartAndPollErrors(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestPoller(clock, Config{})
	transport := forge.E(forge.KindTransport, "start", "boom", nil)

	_, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: func(context.Context) (Submission, error) { return Submission{}, transport },
		Poll:  func(context.Context, string) (Status, error) { return Status{}, nil },
	})
	require.ErrorIs(t, err, transport)

	_, err = p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-7"),
		Poll: func(context.Context, string) (Status, error) {
			return Status{}, forge.E(forge.KindUnauthorized, "poll", "bad key", nil)
		},
	})
	require.Equal(t, forge.KindUnauthorized, forge.KindOf(err))
}

func TestRunRequiresRunIDForAsyncStart(t *testing.T) {
	t.Parallel()

	p := newTestPoller(newFakeClock(), Config{})
	_, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: func(context.Context) (Submission, error) { return Submission{Status: "queued"}, nil },
		Poll:  func(context.Context, string) (Status, error) { return Status{}, nil },
	})
	require.Equal(t, forge.KindTransport, forge.KindOf(err))

	_, err = p.Run(context.Background(), Task{Name: "broken"})
	require.Equal(t, forge.KindConfig, forge.KindOf(err))
}

func TestRunStopsWhenContextCanceledDuringSleep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := New(Config{Budget: time.Minute}, WithClock(clock), WithSleep(func(context.Context, time.Duration) error {
		return context.Canceled
	}))
	_, err := p.Run(context.Background(), Task{
		Name:  "writer",
		Start: started("run-8"),
		Poll:  func(context.Context, string) (Status, error) { return Status{State: "queued"}, nil },
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	require.Equal(t, PhaseSucceeded, p.Classify(" Finished ", false))
	require.Equal(t, PhaseSucceeded, p.Classify("success", false))
	require.Equal(t, PhaseFailed, p.Classify("CANCELLED", false))
	require.Equal(t, PhaseFailed, p.Classify("error", false))
	require.Equal(t, PhasePending, p.Classify("in_progress", true))
	require.Equal(t, PhasePending, p.Classify("", false))
	require.Equal(t, PhaseSucceeded, p.Classify("", true))
}
