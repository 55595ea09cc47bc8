package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/config"
	"github.com/JakeFAU/article-forge/internal/enhancer"
	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/runner"
)

const readinessTimeout = 2 * time.Second

var errMalformedBody = errors.New("malformed request body")

// Runner controls the background queue loop.
type Runner interface {
	Start(ctx context.Context) (*runner.Handle, bool)
	Current() (*runner.Handle, bool)
	Stop() bool
}

// Generator produces articles on demand.
type Generator interface {
	FromURL(ctx context.Context, req pipeline.URLRequest) (pipeline.Result, error)
	FromTopic(ctx context.Context, req pipeline.TopicRequest) (pipeline.Result, error)
}

// Enhancer refreshes stored posts.
type Enhancer interface {
	RunBatch(ctx context.Context, limit int) (enhancer.Report, error)
	EnhancePost(ctx context.Context, post forge.Post) (bool, error)
}

// Archive serves archived article exports.
type Archive interface {
	Archived(ctx context.Context, slug, format string) ([]byte, string, error)
}

// Check reports whether a downstream dependency is usable.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the handlers. Enhancer and Archive may
// be nil.
type Deps struct {
	Jobs      forge.JobStore
	Posts     forge.PostStore
	Runner    Runner
	Generator Generator
	Enhancer  Enhancer
	Archive   Archive
	Clock     forge.Clock
	Ready     map[string]Check
}

// Server wires HTTP handlers to the queue, runner and pipeline.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      config.Config
	logger   *zap.Logger
	validate *validator.Validate
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		validate: newValidator(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.enqueueJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/runner", func(r chi.Router) {
			r.Get("/", s.runnerStatus)
			r.Post("/start", s.startRunner)
			r.Post("/stop", s.stopRunner)
		})
		r.Route("/articles", func(r chi.Router) {
			r.Post("/topic", s.generateFromTopic)
			r.Post("/url", s.generateFromURL)
			r.Get("/{slug}", s.getArticle)
			r.Get("/{slug}/export", s.exportArticle)
			r.Post("/{slug}/enhance", s.enhanceArticle)
		})
		r.Post("/enhancer/run", s.runEnhancer)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decode reads a JSON body into dst and validates its struct tags. An empty
// body decodes as the zero value.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return forge.E(forge.KindValidation, "api.decode", "invalid JSON body", fmt.Errorf("%w: %w", errMalformedBody, err))
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return forge.E(forge.KindValidation, "api.decode",
				fmt.Sprintf("%s: failed %s validation", fe.Field(), fe.Tag()), err)
		}
		return forge.E(forge.KindValidation, "api.decode", err.Error(), err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, errMalformedBody) {
		return http.StatusBadRequest
	}
	if errors.Is(err, forge.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch forge.KindOf(err) {
	case forge.KindValidation, forge.KindInsufficientInput:
		return http.StatusUnprocessableEntity
	case forge.KindNotFound:
		return http.StatusNotFound
	case forge.KindTimeout:
		return http.StatusGatewayTimeout
	case forge.KindTransport, forge.KindUnauthorized, forge.KindGenerationFailed:
		return http.StatusBadGateway
	case forge.KindConfig, forge.KindDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.String("kind", forge.KindOf(err).String()),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": forge.KindOf(err).String()})
}

// RequestID returns the request ID stored by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", RequestID(r.Context())),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
