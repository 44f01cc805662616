package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline Prometheus metrics.
var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deep_researcher",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by classified intent",
		},
		[]string{"intent", "status"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deep_researcher",
			Name:      "llm_requests_total",
			Help:      "Total number of language-model calls",
		},
		[]string{"stage", "status"}, // status: success, error, timeout, empty
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deep_researcher",
			Name:      "llm_request_duration_seconds",
			Help:      "Language-model call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deep_researcher",
			Name:      "search_requests_total",
			Help:      "Total number of web search requests",
		},
		[]string{"status"},
	)

	SearchRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deep_researcher",
			Name:      "search_request_duration_seconds",
			Help:      "Web search request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deep_researcher",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)
)

var registerOnce sync.Once

// Register registers the pipeline metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			LLMRequestsTotal,
			LLMRequestDuration,
			SearchRequestsTotal,
			SearchRequestDuration,
			StageDuration,
		)
	})
}
