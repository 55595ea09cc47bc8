// Package metrics exposes Prometheus collectors for the article service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	runnerActive               prometheus.Gauge
	pollAttemptsTotal          *prometheus.CounterVec
	providerRequestSeconds     *prometheus.HistogramVec
	providerRateLimitWait      *prometheus.HistogramVec
	researchDegradedTotal      *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	enhancerPostsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_jobs_total",
				Help: "Total number of generation jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_job_duration_seconds",
				Help:    "Wall time spent per generation job, labeled by terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		)

		runnerActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_runner_active",
				Help: "1 while the queue runner loop is alive.",
			},
		)

		pollAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_poll_attempts_total",
				Help: "Status polls issued by the bounded poller, labeled by task and outcome.",
			},
			[]string{"task", "outcome"},
		)

		providerRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_provider_request_seconds",
				Help:    "Latency of outbound provider requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "endpoint", "code"},
		)

		providerRateLimitWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_provider_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the client-side provider rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"provider"},
		)

		researchDegradedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_research_degraded_total",
				Help: "Research calls that were skipped or failed and absorbed by the pipeline.",
			},
			[]string{"reason"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_articles_total",
				Help: "Articles produced by the pipeline, labeled by mode (url, topic, reused).",
			},
			[]string{"mode"},
		)

		enhancerPostsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_enhancer_posts_total",
				Help: "Posts visited by the enhancer, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob records a terminal job status and its duration.
func ObserveJob(status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// SetRunnerActive flips the runner gauge.
func SetRunnerActive(active bool) {
	Init()
	if active {
		runnerActive.Set(1)
		return
	}
	runnerActive.Set(0)
}

// ObservePoll counts one poll attempt.
func ObservePoll(task, outcome string) {
	Init()
	pollAttemptsTotal.WithLabelValues(task, outcome).Inc()
}

// ObserveProviderRequest records an outbound provider call. A zero code means
// the request never produced a response.
func ObserveProviderRequest(provider, endpoint string, code int, duration time.Duration) {
	Init()
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	providerRequestSeconds.WithLabelValues(provider, endpoint, label).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	Init()
	providerRateLimitWait.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncResearchDegraded counts a research failure absorbed by the pipeline.
func IncResearchDegraded(reason string) {
	Init()
	researchDegradedTotal.WithLabelValues(reason).Inc()
}

// IncArticles counts a produced (or reused) article.
func IncArticles(mode string) {
	Init()
	articlesTotal.WithLabelValues(mode).Inc()
}

// IncEnhancerPost counts an enhancer visit.
func IncEnhancerPost(outcome string) {
	Init()
	enhancerPostsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
