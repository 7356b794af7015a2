// Package metrics holds the Prometheus collectors of the search pipeline,
// the summary builder and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Search pipeline
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kgsearch_stage_duration_seconds",
		Help:    "Duration of each search pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage", "outcome"})

	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgsearch_searches_total",
		Help: "Total number of AI searches by outcome (grounded, general_insight, failed)",
	}, []string{"outcome"})

	ConstraintsExtracted = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kgsearch_constraints_extracted",
		Help:    "Number of search constraints extracted per query",
		Buckets: []float64{0, 1, 2, 4, 8, 16},
	})

	// Summaries
	SummaryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgsearch_summary_refreshes_total",
		Help: "Total number of graph summary refreshes by result",
	}, []string{"result"})

	CachedSummaries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kgsearch_cached_summaries",
		Help: "Number of graph summaries in the selection cache",
	})

	// LLM providers
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgsearch_llm_requests_total",
		Help: "Total number of provider calls by operation (chat, embed) and outcome",
	}, []string{"op", "outcome"})

	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kgsearch_llm_request_duration_seconds",
		Help:    "Provider call latency including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"op"})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgsearch_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kgsearch_http_request_duration_seconds",
		Help: "HTTP request latency",
	}, []string{"method"})
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage, outcome string, start time.Time) {
	StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
