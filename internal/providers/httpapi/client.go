// Package httpapi is the JSON-over-HTTP transport shared by the provider
// integrations: rate limiting, connect timeouts, error classification and
// route fallbacks.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/metrics"
)

const (
	// DefaultTimeout bounds a single HTTP exchange when the caller sets no deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultConnectTimeout bounds TCP connect and TLS handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRateLimit is the default number of requests per second.
	DefaultRateLimit = 5

	maxErrorBody = 2048
)

// Client talks to one provider base URL.
type Client struct {
	name       string
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets a custom rate limit in requests per second.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithLogger sets a logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTransport returns an http.Transport whose dial and TLS handshake are
// bounded by connectTimeout.
func NewTransport(connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return transport
}

// NewClient creates a provider client. name labels logs and metrics.
func NewClient(name, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: http.Header{},
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: NewTransport(DefaultConnectTimeout),
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  zap.NewNop(),
	}
	c.headers.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider label.
func (c *Client) Name() string {
	return c.name
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// APIError represents a non-2xx response from a provider.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Route is one endpoint variant. Label names the endpoint in metrics.
type Route struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Label  string
}

// Do executes one request and decodes a JSON response into out (when non-nil).
func (c *Client) Do(ctx context.Context, route Route, out any) error {
	op := c.name + " " + route.label()
	if !c.Configured() {
		return forge.E(forge.KindConfig, op, "provider base URL is not configured", nil)
	}
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(op, fmt.Errorf("rate limit wait: %w", err))
	}
	metrics.ObserveRateLimitDelay(c.name, time.Since(waitStart))

	reqURL := c.baseURL + route.Path
	if len(route.Query) > 0 {
		reqURL += "?" + route.Query.Encode()
	}
	var body io.Reader
	if route.Body != nil {
		data, err := json.Marshal(route.Body)
		if err != nil {
			return forge.E(forge.KindInternal, op, "marshal request body", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, route.method(), reqURL, body)
	if err != nil {
		return forge.E(forge.KindInternal, op, "build request", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if route.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("provider request",
		zap.String("provider", c.name),
		zap.String("method", req.Method),
		zap.String("path", route.Path),
	)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest(c.name, route.label(), 0, time.Since(start))
		return classifyTransport(op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()
	metrics.ObserveProviderRequest(c.name, route.label(), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
			Endpoint:   route.Path,
		}
		return classifyStatus(op, apiErr)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return forge.E(forge.KindTransport, op, "empty response body", err)
		}
		return forge.E(forge.KindTransport, op, "decode response", err)
	}
	return nil
}

// DoWithFallback tries each route in order, moving on only when a route
// answers 404. It returns the index of the route that answered.
func (c *Client) DoWithFallback(ctx context.Context, routes []Route, out any) (int, error) {
	var lastErr error
	for i, route := range routes {
		err := c.Do(ctx, route, out)
		if err == nil {
			return i, nil
		}
		if !IsStatus(err, http.StatusNotFound) {
			return i, err
		}
		c.logger.Debug("provider route not found, trying fallback",
			zap.String("provider", c.name),
			zap.String("path", route.Path),
		)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = forge.E(forge.KindConfig, c.name, "no routes supplied", nil)
	}
	return len(routes) - 1, lastErr
}

// IsStatus reports whether err carries an APIError with the given code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (r Route) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r Route) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.method() + " " + r.Path
}

func classifyStatus(op string, apiErr *APIError) error {
	kind := forge.KindTransport
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = forge.KindUnauthorized
	case http.StatusNotFound:
		kind = forge.KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = forge.KindTimeout
	}
	fe := forge.E(kind, op, "request failed", apiErr)
	fe.StatusCode = apiErr.StatusCode
	return fe
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return forge.E(forge.KindTimeout, op, "request timed out", err)
	}
	return forge.E(forge.KindTransport, op, "request failed", err)
}

// errorMessage prefers a provider-supplied message over the raw body.
func errorMessage(raw []byte, fallback string) string {
	var envelope struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		switch e := envelope.Error.(type) {
		case string:
			if e != "" {
				return forge.Truncate(e, 300)
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return forge.Truncate(msg, 300)
			}
		}
		if envelope.Message != "" {
			return forge.Truncate(envelope.Message, 300)
		}
		if envelope.Detail != "" {
			return forge.Truncate(envelope.Detail, 300)
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	return forge.Truncate(text, 300)
}
