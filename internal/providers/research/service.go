// Package research runs deep-research tasks that supply background facts and
// citation candidates for generated articles.
package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
	"github.com/JakeFAU/article-forge/internal/poller"
	"github.com/JakeFAU/article-forge/internal/providers/httpapi"
)

const (
	// DefaultProcessor is the task processor tier.
	DefaultProcessor = "base"
	// DefaultMaxSources caps the returned sources.
	DefaultMaxSources = 5
)

// DefaultBlockedTLDs are never returned as sources.
var DefaultBlockedTLDs = []string{".ru", ".su"}

// API is the subset of httpapi.Client the service needs.
type API interface {
	Do(ctx context.Context, route httpapi.Route, out any) error
	DoWithFallback(ctx context.Context, routes []httpapi.Route, out any) (int, error)
}

// Config tunes the service.
type Config struct {
	Processor   string
	MaxSources  int
	BlockedTLDs []string
	Poller      poller.Config
}

// Findings is the digest of one research task.
type Findings struct {
	Summary string
	Sources []forge.SourceCandidate
}

// Empty reports whether the findings carry nothing.
func (f Findings) Empty() bool {
	return f.Summary == "" && len(f.Sources) == 0
}

// Service runs research tasks.
type Service struct {
	api    API
	cfg    Config
	poller *poller.Poller
	logger *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithPoller overrides the poller built from Config.Poller.
func WithPoller(p *poller.Poller) Option {
	return func(s *Service) {
		s.poller = p
	}
}

// NewService builds a research service. A nil api yields a service whose
// Enrich always degrades.
func NewService(api API, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.Processor == "" {
		cfg.Processor = DefaultProcessor
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	if cfg.BlockedTLDs == nil {
		cfg.BlockedTLDs = DefaultBlockedTLDs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{api: api, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.poller == nil {
		s.poller = poller.New(cfg.Poller, poller.WithLogger(logger))
	}
	return s
}

// Configured reports whether research calls can be made.
func (s *Service) Configured() bool {
	return s != nil && s.api != nil
}

// Research runs one task for topic and returns its summary and sources.
func (s *Service) Research(ctx context.Context, topic, background string) (Findings, error) {
	const op = "research.Research"
	if !s.Configured() {
		return Findings{}, forge.E(forge.KindConfig, op, "research provider is not configured", nil)
	}
	body := map[string]string{
		"input":     buildInput(topic, background),
		"processor": s.cfg.Processor,
	}
	res, err := s.poller.Run(ctx, poller.Task{
		Name: "research",
		Start: func(ctx context.Context) (poller.Submission, error) {
			var out struct {
				RunID  string `json:"run_id"`
				Status string `json:"status"`
			}
			err := s.api.Do(ctx, httpapi.Route{
				Method: http.MethodPost,
				Path:   "/v1/tasks/runs",
				Body:   body,
				Label:  "task_create",
			}, &out)
			if err != nil {
				return poller.Submission{}, err
			}
			status := out.Status
			if status == "" {
				status = "queued"
			}
			return poller.Submission{RunID: out.RunID, Status: status}, nil
		},
		Poll: func(ctx context.Context, runID string) (poller.Status, error) {
			var out struct {
				Status string `json:"status"`
				Error  struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			err := s.api.Do(ctx, httpapi.Route{
				Path:  "/v1/tasks/runs/" + url.PathEscape(runID),
				Label: "task_status",
			}, &out)
			if err != nil {
				return poller.Status{}, err
			}
			return poller.Status{State: out.Status, Message: out.Error.Message}, nil
		},
		Fetch: func(ctx context.Context, runID string) (json.RawMessage, error) {
			path := "/v1/tasks/runs/" + url.PathEscape(runID) + "/result"
			var raw json.RawMessage
			_, err := s.api.DoWithFallback(ctx, []httpapi.Route{
				{Path: path, Query: url.Values{"expand": {"output,basis"}}, Label: "task_result"},
				{Path: path, Label: "task_result"},
			}, &raw)
			return raw, err
		},
	})
	if err != nil {
		if forge.IsKind(err, forge.KindNotFound) {
			return Findings{}, forge.E(forge.KindConfig, op, "research endpoint not found", err)
		}
		return Findings{}, err
	}

	var payload resultPayload
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return Findings{}, forge.E(forge.KindTransport, op, "decode result", err)
	}
	findings := Findings{
		Summary: payload.summary(),
		Sources: s.filter(payload.candidates()),
	}
	s.logger.Info("research completed",
		zap.String("run_id", res.RunID),
		zap.Int("polls", res.Polls),
		zap.Int("sources", len(findings.Sources)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return findings, nil
}

// Enrich is Research with failures absorbed: missing configuration or any
// error yields empty findings and a warning.
func (s *Service) Enrich(ctx context.Context, topic, background string) Findings {
	if !s.Configured() {
		metrics.IncResearchDegraded("not_configured")
		if s != nil {
			s.logger.Warn("research skipped, provider not configured", zap.String("topic", topic))
		}
		return Findings{}
	}
	findings, err := s.Research(ctx, topic, background)
	if err != nil {
		reason := forge.KindOf(err).String()
		metrics.IncResearchDegraded(reason)
		s.logger.Warn("research degraded",
			zap.String("topic", topic),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return Findings{}
	}
	return findings
}

// filter drops blocked and duplicate URLs, keeping provider order.
func (s *Service) filter(candidates []forge.SourceCandidate) []forge.SourceCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]forge.SourceCandidate, 0, s.cfg.MaxSources)
	for _, c := range candidates {
		if len(out) >= s.cfg.MaxSources {
			break
		}
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if forge.HasBlockedTLD(c.URL, s.cfg.BlockedTLDs) {
			continue
		}
		key := forge.NormalizeURL(c.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func buildInput(topic, background string) string {
	lines := []string{
		"Zbierz najnowsze i wiarygodne informacje powiązane z artykułem joga.yoga.",
		"Potrzebne są fakty, dane liczbowe, trendy i komentarze ekspertów.",
		"Preferuj źródła: duże europejskie/US media, instytucje akademickie i medyczne, WHO, UE, UNESCO,",
		"uznane organizacje jogi/ajurwedy z Indii oraz Wikipedia.",
		"Unikaj źródeł .ru lub rosyjskojęzycznych.",
		"Dla każdej pozycji podaj tytuł, krótkie streszczenie, URL i datę publikacji (jeśli dostępna).",
		"Temat:",
		strings.TrimSpace(topic),
	}
	if bg := strings.TrimSpace(background); bg != "" {
		lines = append(lines, "Kontekst:", bg)
	}
	return strings.Join(lines, "\n")
}
