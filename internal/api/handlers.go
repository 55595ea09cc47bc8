package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/runner"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type enqueueRequest struct {
	URL   string `json:"url" validate:"required,url"`
	Start bool   `json:"start"`
}

type topicRequest struct {
	Topic    string   `json:"topic" validate:"required,min=3,max=300"`
	Section  string   `json:"section" validate:"max=120"`
	Keywords []string `json:"keywords" validate:"max=20,dive,max=80"`
	Guidance string   `json:"guidance" validate:"max=2000"`
}

type urlRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Language string `json:"language" validate:"omitempty,min=2,max=5"`
}

type enhancerRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=500"`
}

type runnerStatus struct {
	Active    bool       `json:"active"`
	Stopping  bool       `json:"stopping"`
	Processed int64      `json:"processed"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type articleResponse struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Canonical string `json:"canonical"`
	Reused    bool   `json:"reused"`
	Document  any    `json:"document"`
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.deps.Jobs.EnqueueJob(r.Context(), req.URL, s.deps.Clock.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	started := false
	if req.Start && s.deps.Runner != nil {
		_, started = s.deps.Runner.Start(r.Context())
	}
	s.logger.Info("job enqueued", zap.Int64("job_id", job.ID), zap.String("url", job.URL))
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "runner_started": started})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := forge.JobFilter{Limit: defaultListLimit}
	if raw := q.Get("status"); raw != "" {
		status := forge.JobStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Status = &status
	}
	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit"), defaultListLimit); !ok || filter.Limit <= 0 || filter.Limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	if filter.Offset, ok = intParam(q.Get("offset"), 0); !ok || filter.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) runnerStatus(w http.ResponseWriter, _ *http.Request) {
	h, _ := s.deps.Runner.Current()
	writeJSON(w, http.StatusOK, statusOf(h))
}

func (s *Server) startRunner(w http.ResponseWriter, r *http.Request) {
	h, started := s.deps.Runner.Start(r.Context())
	code := http.StatusOK
	if started {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]any{"started": started, "runner": statusOf(h)})
}

func (s *Server) stopRunner(w http.ResponseWriter, _ *http.Request) {
	stopping := s.deps.Runner.Stop()
	h, _ := s.deps.Runner.Current()
	writeJSON(w, http.StatusOK, map[string]any{"stopping": stopping, "runner": statusOf(h)})
}

func statusOf(h *runner.Handle) runnerStatus {
	if h == nil {
		return runnerStatus{}
	}
	started := h.StartedAt()
	return runnerStatus{
		Active:    h.Running(),
		Stopping:  h.Stopping(),
		Processed: h.Processed(),
		StartedAt: &started,
	}
}

func (s *Server) generateFromTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Generator.FromTopic(r.Context(), pipeline.TopicRequest{
		Topic:    req.Topic,
		Section:  req.Section,
		Keywords: req.Keywords,
		Guidance: req.Guidance,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeArticle(w, res)
}

func (s *Server) generateFromURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Generator.FromURL(r.Context(), pipeline.URLRequest{URL: req.URL, Language: req.Language})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeArticle(w, res)
}

func writeArticle(w http.ResponseWriter, res pipeline.Result) {
	code := http.StatusCreated
	if res.Reused {
		code = http.StatusOK
	}
	writeJSON(w, code, articleResponse{
		ID:        res.Post.ID,
		Slug:      res.Post.Slug,
		Canonical: res.Post.Canonical,
		Reused:    res.Reused,
		Document:  res.Document,
	})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	post, err := s.deps.Posts.GetPostBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post})
}

func (s *Server) exportArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		s.fail(w, r, forge.E(forge.KindConfig, "api.export", "archive is not configured", nil))
		return
	}
	post, err := s.deps.Posts.GetPostBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, contentType, err := s.deps.Archive.Archived(r.Context(), post.Slug, r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("export write failed", zap.String("slug", post.Slug), zap.Error(err))
	}
}

func (s *Server) enhanceArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enhancer == nil {
		s.fail(w, r, forge.E(forge.KindConfig, "api.enhance", "enhancer is disabled", nil))
		return
	}
	post, err := s.deps.Posts.GetPostBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changed, err := s.deps.Enhancer.EnhancePost(r.Context(), post)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": post.Slug, "changed": changed})
}

func (s *Server) runEnhancer(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enhancer == nil {
		s.fail(w, r, forge.E(forge.KindConfig, "api.enhance", "enhancer is disabled", nil))
		return
	}
	var req enhancerRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.deps.Enhancer.RunBatch(r.Context(), req.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
