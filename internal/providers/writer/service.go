// Package writer drives a hosted generative assistant (thread, message, run,
// poll, read) and returns the JSON document it produced.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/poller"
	"github.com/JakeFAU/article-forge/internal/providers/httpapi"
)

var (
	// DefaultSuccessStates ends a run successfully.
	DefaultSuccessStates = []string{"completed"}
	// DefaultFailureStates ends a run with an error.
	DefaultFailureStates = []string{"failed", "cancelled", "expired", "incomplete"}
)

// API is the subset of httpapi.Client the service needs.
type API interface {
	Do(ctx context.Context, route httpapi.Route, out any) error
}

// Config tunes the service.
type Config struct {
	AssistantID string
	Poller      poller.Config
}

// Service generates JSON documents through an assistant.
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

// NewService builds a writer service.
func NewService(api API, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if len(cfg.Poller.SuccessStates) == 0 {
		cfg.Poller.SuccessStates = DefaultSuccessStates
	}
	if len(cfg.Poller.FailureStates) == 0 {
		cfg.Poller.FailureStates = DefaultFailureStates
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

// WithAssistant returns a copy of s that runs a different assistant.
func (s *Service) WithAssistant(id string) *Service {
	clone := *s
	if id != "" {
		clone.cfg.AssistantID = id
	}
	return &clone
}

// Configured reports whether the service can run.
func (s *Service) Configured() bool {
	return s != nil && s.api != nil && s.cfg.AssistantID != ""
}

type run struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// Generate posts brief to a fresh thread, runs the assistant with
// instructions and returns the JSON object found in its reply.
func (s *Service) Generate(ctx context.Context, brief, instructions string) (json.RawMessage, error) {
	const op = "writer.Generate"
	if !s.Configured() {
		return nil, forge.E(forge.KindConfig, op, "writer assistant is not configured", nil)
	}

	var thread struct {
		ID string `json:"id"`
	}
	if err := s.api.Do(ctx, httpapi.Route{Method: http.MethodPost, Path: "/v1/threads", Body: struct{}{}, Label: "thread_create"}, &thread); err != nil {
		return nil, misconfigured(op, err)
	}
	if thread.ID == "" {
		return nil, forge.E(forge.KindTransport, op, "thread id missing in response", nil)
	}
	threadPath := "/v1/threads/" + url.PathEscape(thread.ID)

	message := map[string]any{
		"role":    "user",
		"content": []map[string]string{{"type": "text", "text": brief}},
	}
	if err := s.api.Do(ctx, httpapi.Route{Method: http.MethodPost, Path: threadPath + "/messages", Body: message, Label: "message_create"}, nil); err != nil {
		return nil, misconfigured(op, err)
	}

	res, err := s.poller.Run(ctx, poller.Task{
		Name: "writer",
		Start: func(ctx context.Context) (poller.Submission, error) {
			body := map[string]string{"assistant_id": s.cfg.AssistantID}
			if instructions != "" {
				body["instructions"] = instructions
			}
			var r run
			err := s.api.Do(ctx, httpapi.Route{Method: http.MethodPost, Path: threadPath + "/runs", Body: body, Label: "run_create"}, &r)
			if err != nil {
				return poller.Submission{}, err
			}
			status := r.Status
			if status == "" {
				status = "queued"
			}
			return poller.Submission{RunID: r.ID, Status: status, Message: r.failureMessage()}, nil
		},
		Poll: func(ctx context.Context, runID string) (poller.Status, error) {
			var r run
			err := s.api.Do(ctx, httpapi.Route{Path: threadPath + "/runs/" + url.PathEscape(runID), Label: "run_status"}, &r)
			if err != nil {
				return poller.Status{}, err
			}
			return poller.Status{State: r.Status, Message: r.failureMessage()}, nil
		},
	})
	if err != nil {
		s.logger.Error("assistant run failed",
			zap.String("thread_id", thread.ID),
			zap.String("kind", forge.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, misconfigured(op, err)
	}

	var list messageList
	err = s.api.Do(ctx, httpapi.Route{
		Path:  threadPath + "/messages",
		Query: url.Values{"order": {"desc"}, "limit": {"5"}},
		Label: "message_list",
	}, &list)
	if err != nil {
		return nil, misconfigured(op, err)
	}
	text := list.assistantText()
	if text == "" {
		return nil, forge.E(forge.KindGenerationFailed, op, "assistant did not return text content", nil)
	}
	s.logger.Info("assistant run completed",
		zap.String("thread_id", thread.ID),
		zap.String("run_id", res.RunID),
		zap.Int("polls", res.Polls),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("bytes", len(text)),
	)

	payload, err := ExtractJSON(text)
	if err != nil {
		return nil, forge.E(forge.KindGenerationFailed, op, err.Error(), err)
	}
	return payload, nil
}

// misconfigured re-kinds a provider 404 as a config error. The assistants
// API answers 404 for an unknown assistant id or a wrong base path.
func misconfigured(op string, err error) error {
	if !forge.IsKind(err, forge.KindNotFound) {
		return err
	}
	return forge.E(forge.KindConfig, op, "assistant endpoint not found", err)
}

func (r run) failureMessage() string {
	if r.LastError != nil {
		if msg := strings.TrimSpace(r.LastError.Message); msg != "" {
			return shorten(msg)
		}
		if r.LastError.Code != "" {
			return shorten(r.LastError.Code)
		}
	}
	return shorten(fmt.Sprintf("assistant returned status %s", r.Status))
}

func shorten(s string) string {
	if utf8.RuneCountInString(s) <= 300 {
		return s
	}
	return forge.Truncate(s, 300)
}

type messageList struct {
	Data []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"data"`
}

// assistantText returns the text of the newest assistant message.
func (l messageList) assistantText() string {
	for _, m := range l.Data {
		if m.Role != "assistant" {
			continue
		}
		if text := contentText(m.Content); text != "" {
			return text
		}
	}
	return ""
}

// contentText accepts a flat string or a list of typed parts.
func contentText(raw json.RawMessage) string {
	var flat string
	if json.Unmarshal(raw, &flat) == nil {
		return strings.TrimSpace(flat)
	}
	var parts []struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type != "text" {
			continue
		}
		var value string
		if json.Unmarshal(p.Text, &value) != nil {
			var obj struct {
				Value string `json:"value"`
				Text  string `json:"text"`
			}
			if json.Unmarshal(p.Text, &obj) == nil {
				value = obj.Value
				if value == "" {
					value = obj.Text
				}
			}
		}
		if v := strings.TrimSpace(value); v != "" {
			out = append(out, v)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
