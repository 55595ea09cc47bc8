package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/config"
	"github.com/JakeFAU/article-forge/internal/enhancer"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/runner"
	"github.com/JakeFAU/article-forge/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type fakeGenerator struct {
	mu     sync.Mutex
	topics []pipeline.TopicRequest
	urls   []pipeline.URLRequest
	result pipeline.Result
	err    error
}

func (f *fakeGenerator) FromURL(_ context.Context, req pipeline.URLRequest) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, req)
	return f.result, f.err
}

func (f *fakeGenerator) FromTopic(_ context.Context, req pipeline.TopicRequest) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, req)
	return f.result, f.err
}

type fakeEnhancer struct {
	report  enhancer.Report
	limits  []int
	changed bool
	err     error
}

func (f *fakeEnhancer) RunBatch(_ context.Context, limit int) (enhancer.Report, error) {
	f.limits = append(f.limits, limit)
	return f.report, f.err
}

func (f *fakeEnhancer) EnhancePost(context.Context, forge.Post) (bool, error) {
	return f.changed, f.err
}

type fakeArchive struct {
	objects map[string]string
}

func (f *fakeArchive) Archived(_ context.Context, slug, format string) ([]byte, string, error) {
	switch format {
	case "", "mdx":
		format = "mdx"
	case "json":
	default:
		return nil, "", forge.E(forge.KindValidation, "archive", "unknown export format", nil)
	}
	data, ok := f.objects[slug+"."+format]
	if !ok {
		return nil, "", forge.E(forge.KindNotFound, "archive", "missing", forge.ErrNotFound)
	}
	if format == "json" {
		return []byte(data), "application/json", nil
	}
	return []byte(data), "text/markdown; charset=utf-8", nil
}

type testEnv struct {
	jobs     *memory.JobStore
	posts    *memory.PostStore
	gen      *fakeGenerator
	enhancer *fakeEnhancer
	archive  *fakeArchive
	runner   *runner.Runner
	server   *Server
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	clock := fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	env := &testEnv{
		jobs:     memory.NewJobStore(),
		gen:      &fakeGenerator{},
		enhancer: &fakeEnhancer{},
		archive:  &fakeArchive{objects: map[string]string{}},
	}
	env.posts = memory.NewPostStore(env.jobs)
	env.runner = runner.New(env.jobs, env.gen, clock, runner.Config{}, zap.NewNop())
	env.server = NewServer(Deps{
		Jobs:      env.jobs,
		Posts:     env.posts,
		Runner:    env.runner,
		Generator: env.gen,
		Enhancer:  env.enhancer,
		Archive:   env.archive,
		Clock:     clock,
	}, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.server.deps.Ready = map[string]Check{
		"db": func(context.Context) error { return errors.New("connection refused") },
	}
	rec := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	env.server.deps.Ready = map[string]Check{"db": func(context.Context) error { return nil }}
	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.do(t, http.MethodGet, "/healthz", "")
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_EnqueueJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"url":"https://youtu.be/abc123"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Job           forge.Job `json:"job"`
		RunnerStarted bool      `json:"runner_started"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, forge.JobStatusPending, resp.Job.Status)
	require.False(t, resp.RunnerStarted)

	rec = env.do(t, http.MethodGet, "/v1/jobs/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://youtu.be/abc123")
}

func TestServer_EnqueueJob_StartsRunner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.gen.result = pipeline.Result{Post: forge.Post{ID: 9}}
	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"url":"https://example.com/video","start":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"runner_started":true`)

	h, ok := env.runner.Current()
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	job, err := env.jobs.GetJob(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, forge.JobStatusDone, job.Status)
}

func TestServer_EnqueueJob_Invalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/jobs", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/jobs", `{"url":"not a url"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "url: failed url validation")

	rec = env.do(t, http.MethodPost, "/v1/jobs", `{"url":"https://example.com","extra":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		_, err := env.jobs.EnqueueJob(ctx, u, at.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := env.jobs.ClaimNextPending(ctx, at)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/jobs?status=pending&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Jobs []forge.Job `json:"jobs"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "https://c.example.com", resp.Jobs[0].URL)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/jobs?status=lost", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/jobs?limit=0", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/jobs?offset=-1", "").Code)
}

func TestServer_GetJob_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/jobs/42", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/jobs/abc", "").Code)
}

func TestServer_RunnerLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/runner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"active":false,"stopping":false,"processed":0}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/runner/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	h, _ := env.runner.Current()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	rec = env.do(t, http.MethodPost, "/v1/runner/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stopping":false`)
}

func TestServer_GenerateFromTopic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.gen.result = pipeline.Result{
		Post:     forge.Post{ID: 3, Slug: "joga-dla-biegaczy", Canonical: "https://joga.yoga/artykuly/joga-dla-biegaczy"},
		Document: article.Document{Slug: "joga-dla-biegaczy"},
	}
	rec := env.do(t, http.MethodPost, "/v1/articles/topic",
		`{"topic":"Joga dla biegaczy","section":"Sport","keywords":["bieganie","rozciąganie"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"slug":"joga-dla-biegaczy"`)
	require.Equal(t, []pipeline.TopicRequest{{
		Topic:    "Joga dla biegaczy",
		Section:  "Sport",
		Keywords: []string{"bieganie", "rozciąganie"},
	}}, env.gen.topics)

	env.gen.result.Reused = true
	rec = env.do(t, http.MethodPost, "/v1/articles/topic", `{"topic":"Joga dla biegaczy"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/articles/topic", `{"topic":"ab"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_GenerateFromURL_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too short", forge.E(forge.KindInsufficientInput, "transcript", "too short", nil), http.StatusUnprocessableEntity},
		{"timeout", forge.E(forge.KindTimeout, "poll", "budget", nil), http.StatusGatewayTimeout},
		{"upstream", forge.E(forge.KindGenerationFailed, "writer", "failed", nil), http.StatusBadGateway},
		{"unconfigured", forge.E(forge.KindConfig, "pipeline", "no transcript", nil), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.Config{})
			env.gen.err = tt.err
			rec := env.do(t, http.MethodPost, "/v1/articles/url", `{"url":"https://youtu.be/xyz","language":"pl"}`)
			require.Equal(t, tt.want, rec.Code)
			require.Equal(t, "https://youtu.be/xyz", env.gen.urls[0].URL)
			require.Equal(t, "pl", env.gen.urls[0].Language)
		})
	}
}

func TestServer_GetArticle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_, err := env.posts.SavePost(context.Background(), forge.Post{
		Slug:    "oddech",
		Title:   "Oddech",
		Payload: json.RawMessage(`{"slug":"oddech"}`),
	}, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/articles/oddech", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"title":"Oddech"`)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/articles/brak", "").Code)
}

func TestServer_ExportArticle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_, err := env.posts.SavePost(context.Background(), forge.Post{
		Slug:    "oddech",
		Title:   "Oddech",
		Payload: json.RawMessage(`{"slug":"oddech"}`),
	}, nil)
	require.NoError(t, err)
	env.archive.objects["oddech.mdx"] = "---\ntitle: Oddech\n---\n"
	env.archive.objects["oddech.json"] = `{"slug":"oddech"}`

	rec := env.do(t, http.MethodGet, "/v1/articles/oddech/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "---\ntitle: Oddech\n---\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/articles/oddech/export?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"slug":"oddech"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/articles/oddech/export?format=pdf", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	delete(env.archive.objects, "oddech.mdx")
	rec = env.do(t, http.MethodGet, "/v1/articles/oddech/export", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/articles/brak/export", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExportWithoutArchive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.server.deps.Archive = nil
	_, err := env.posts.SavePost(context.Background(), forge.Post{Slug: "oddech", Title: "Oddech"}, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/articles/oddech/export", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Enhancer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.enhancer.report = enhancer.Report{Visited: 2, Enhanced: 1, Skipped: 1}

	rec := env.do(t, http.MethodPost, "/v1/enhancer/run", `{"limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"visited":2,"enhanced":1,"skipped":1,"failed":0}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/enhancer/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{5, 0}, env.enhancer.limits)

	_, err := env.posts.SavePost(context.Background(), forge.Post{Slug: "stary-wpis", Payload: json.RawMessage(`{}`)}, nil)
	require.NoError(t, err)
	env.enhancer.changed = true
	rec = env.do(t, http.MethodPost, "/v1/articles/stary-wpis/enhance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"changed":true`)
}

func TestServer_EnhancerDisabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.server.deps.Enhancer = nil
	rec := env.do(t, http.MethodPost, "/v1/enhancer/run", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/jobs", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/jobs?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runner", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
