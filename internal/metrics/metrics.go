// Package metrics provides Prometheus metrics for the grading service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeNoAnswers        = "no_answers"
	OutcomeEmbeddingFailed  = "embedding_failed"
	OutcomePersistFailed    = "persist_failed"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry sets the Prometheus registry. A fresh registry is used by
// default so the process collectors are the only ones not owned here.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithLatencyBuckets sets histogram buckets for embedding latency.
func WithLatencyBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.latencyBuckets = buckets
		}
	}
}

// Manager owns every grading metric. A nil *Manager is valid and records
// nothing.
type Manager struct {
	namespace      string
	registry       *prometheus.Registry
	latencyBuckets []float64

	answersScored      *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	doubleSubmissions  prometheus.Counter
	semanticFallbacks  prometheus.Counter
	finalScores        prometheus.Histogram
	embeddingLatency   *prometheus.HistogramVec
	embeddingCacheHits *prometheus.CounterVec
}

// NewManager creates and registers the metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "answergrader",
		latencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.answersScored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "answers_scored_total",
		Help:      "Answers scored, by verdict.",
	}, []string{"verdict"})
	m.submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "exam_submissions_total",
		Help:      "Exam submissions, by outcome.",
	}, []string{"outcome"})
	m.doubleSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "double_submissions_total",
		Help:      "Submissions rejected because the student already completed the exam.",
	})
	m.semanticFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "semantic_fallbacks_total",
		Help:      "Answers scored without a semantic similarity under the lenient policy.",
	})
	m.finalScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "final_score",
		Help:      "Distribution of per-answer final scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	m.embeddingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "embedding_request_duration_seconds",
		Help:      "Embedding request latency, by provider and status.",
		Buckets:   m.latencyBuckets,
	}, []string{"provider", "status"})
	m.embeddingCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "embedding_cache_requests_total",
		Help:      "Embedding cache lookups, by result.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.answersScored,
		m.submissions,
		m.doubleSubmissions,
		m.semanticFallbacks,
		m.finalScores,
		m.embeddingLatency,
		m.embeddingCacheHits,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) RecordAnswerScored(verdict string, finalScore float64) {
	if m == nil {
		return
	}
	m.answersScored.WithLabelValues(verdict).Inc()
	m.finalScores.Observe(finalScore)
}

func (m *Manager) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAlreadyCompleted {
		m.doubleSubmissions.Inc()
	}
}

func (m *Manager) RecordSemanticFallback() {
	if m == nil {
		return
	}
	m.semanticFallbacks.Inc()
}

func (m *Manager) RecordEmbedding(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.embeddingLatency.WithLabelValues(provider, status).Observe(d.Seconds())
}

func (m *Manager) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCacheHits.WithLabelValues(result).Inc()
}
