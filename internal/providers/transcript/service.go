// Package transcript retrieves spoken-word text for a video URL, falling back
// from published captions to speech recognition.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/poller"
	"github.com/JakeFAU/article-forge/internal/providers/httpapi"
)

// Modes reported in Transcript.Mode.
const (
	ModeTranscript = "transcript"
	ModeASR        = "asr"
)

const (
	// DefaultThreshold is the minimum transcript length in characters.
	DefaultThreshold = 200
	// DefaultLanguage is sent when the caller gives no language hint.
	DefaultLanguage = "pl"
)

// API is the subset of httpapi.Client the service needs.
type API interface {
	Do(ctx context.Context, route httpapi.Route, out any) error
	DoWithFallback(ctx context.Context, routes []httpapi.Route, out any) (int, error)
}

// Config tunes the service.
type Config struct {
	Threshold int
	Language  string
	Poller    poller.Config
}

// Transcript is flattened text plus how it was obtained.
type Transcript struct {
	Text  string
	Mode  string
	Chars int
}

// TooShortError reports a transcript below the configured threshold.
type TooShortError struct {
	ContentChars int
	Threshold    int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("transcript has insufficient length: %d chars, threshold %d", e.ContentChars, e.Threshold)
}

// Service fetches transcripts.
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

// NewService builds a transcript service on top of api.
func NewService(api API, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
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

// Fetch returns the transcript for videoURL. It tries published captions
// first and speech recognition second.
func (s *Service) Fetch(ctx context.Context, videoURL, languageHint string) (Transcript, error) {
	const op = "transcript.Fetch"
	lang := languageHint
	if lang == "" {
		lang = s.cfg.Language
	}

	text, err := s.fetchTranscript(ctx, videoURL, lang)
	switch {
	case err == nil:
	case forge.IsKind(err, forge.KindUnauthorized), forge.IsKind(err, forge.KindConfig):
		return Transcript{}, err
	case forge.IsKind(err, forge.KindTimeout), ctx.Err() != nil:
		// The poll budget is shared by both modes.
		return Transcript{}, err
	default:
		s.logger.Warn("transcript mode failed, trying asr",
			zap.String("url", videoURL),
			zap.Error(err),
		)
	}
	mode := ModeTranscript

	if text == "" {
		text, err = s.fetchASR(ctx, videoURL, lang)
		if err != nil && !forge.IsKind(err, forge.KindNotFound) {
			return Transcript{}, err
		}
		mode = ModeASR
	}
	if text == "" {
		return Transcript{}, forge.E(forge.KindInsufficientInput, op, "no transcript/asr text", nil)
	}

	chars := utf8.RuneCountInString(text)
	if chars < s.cfg.Threshold {
		s.logger.Info("transcript too short",
			zap.String("url", videoURL),
			zap.Int("content_chars", chars),
			zap.Int("threshold", s.cfg.Threshold),
		)
		tooShort := &TooShortError{ContentChars: chars, Threshold: s.cfg.Threshold}
		return Transcript{}, forge.E(forge.KindInsufficientInput, op, tooShort.Error(), tooShort)
	}
	s.logger.Debug("transcript fetched",
		zap.String("url", videoURL),
		zap.String("mode", mode),
		zap.Int("chars", chars),
	)
	return Transcript{Text: text, Mode: mode, Chars: chars}, nil
}

func (s *Service) fetchTranscript(ctx context.Context, videoURL, lang string) (string, error) {
	query := url.Values{"url": {videoURL}, "lang": {lang}, "text": {"true"}}
	routes := []httpapi.Route{
		{Path: "/transcript", Query: query, Label: "transcript"},
		{Path: "/youtube/transcript", Query: query, Label: "youtube_transcript"},
	}
	res, err := s.poller.Run(ctx, poller.Task{
		Name: "transcript",
		Start: func(ctx context.Context) (poller.Submission, error) {
			var raw json.RawMessage
			if _, err := s.api.DoWithFallback(ctx, routes, &raw); err != nil {
				if forge.IsKind(err, forge.KindNotFound) {
					return poller.Submission{Status: "completed", Payload: json.RawMessage(`{"content":""}`)}, nil
				}
				return poller.Submission{}, err
			}
			return submission(raw)
		},
		Poll: func(ctx context.Context, jobID string) (poller.Status, error) {
			return s.pollJob(ctx, []string{"/transcript/" + url.PathEscape(jobID)})
		},
	})
	if err != nil {
		return "", err
	}
	return textOf(res.Payload)
}

func (s *Service) fetchASR(ctx context.Context, videoURL, lang string) (string, error) {
	body := map[string]string{"url": videoURL, "lang": lang, "mode": "generate"}
	routes := []httpapi.Route{
		{Method: http.MethodPost, Path: "/transcript", Body: body, Label: "asr"},
		{Method: http.MethodPost, Path: "/youtube/asr", Body: body, Label: "youtube_asr"},
	}
	legacy := false
	res, err := s.poller.Run(ctx, poller.Task{
		Name: "asr",
		Start: func(ctx context.Context) (poller.Submission, error) {
			var raw json.RawMessage
			idx, err := s.api.DoWithFallback(ctx, routes, &raw)
			if err != nil {
				return poller.Submission{}, err
			}
			legacy = idx > 0
			return submission(raw)
		},
		Poll: func(ctx context.Context, jobID string) (poller.Status, error) {
			paths := []string{"/transcript/" + url.PathEscape(jobID), "/youtube/asr/" + url.PathEscape(jobID)}
			if legacy {
				paths[0], paths[1] = paths[1], paths[0]
			}
			return s.pollJob(ctx, paths)
		},
	})
	if err != nil {
		return "", err
	}
	return textOf(res.Payload)
}

func (s *Service) pollJob(ctx context.Context, paths []string) (poller.Status, error) {
	routes := make([]httpapi.Route, 0, len(paths))
	for _, p := range paths {
		routes = append(routes, httpapi.Route{Path: p, Label: "transcript_job"})
	}
	var raw json.RawMessage
	if _, err := s.api.DoWithFallback(ctx, routes, &raw); err != nil {
		return poller.Status{}, err
	}
	r, err := decode(raw)
	if err != nil {
		return poller.Status{}, forge.E(forge.KindTransport, "transcript.poll", "decode job status", err)
	}
	st := poller.Status{State: r.Status, Message: r.errorMessage()}
	if _, err := extractText(r); err == nil {
		st.Payload = raw
	}
	return st, nil
}

// submission turns a start response into either a synchronous result or a job.
func submission(raw json.RawMessage) (poller.Submission, error) {
	r, err := decode(raw)
	if err != nil {
		return poller.Submission{}, forge.E(forge.KindTransport, "transcript.start", "decode response", err)
	}
	sub := poller.Submission{RunID: r.jobID(), Status: r.Status, Message: r.errorMessage()}
	if _, err := extractText(r); err == nil {
		sub.Payload = raw
		if sub.Status == "" || sub.RunID == "" {
			sub.Status = "completed"
		}
		return sub, nil
	}
	if sub.RunID == "" {
		return poller.Submission{}, forge.E(forge.KindTransport, "transcript.start", errUnrecognized.Error(), errUnrecognized)
	}
	return sub, nil
}

func textOf(payload json.RawMessage) (string, error) {
	r, err := decode(payload)
	if err != nil {
		return "", forge.E(forge.KindTransport, "transcript.result", "decode result", err)
	}
	text, err := extractText(r)
	if err != nil {
		return "", forge.E(forge.KindTransport, "transcript.result", err.Error(), err)
	}
	return text, nil
}
