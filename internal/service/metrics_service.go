package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/clearance-api/internal/models"
)

const metricsNamespace = "clearance"

// SubmissionCreated is the outcome label for an accepted submission.
const SubmissionCreated = "created"

// workflowCounts mirrors the Prometheus counters so the admin snapshot does
// not have to gather the registry.
type workflowCounts struct {
	cacheHits    atomic.Uint64
	cacheMisses  atomic.Uint64
	requests     atomic.Uint64
	requestNanos atomic.Uint64
	submissions  atomic.Uint64
	decisions    atomic.Uint64
	expiries     atomic.Uint64
	certificates atomic.Uint64
}

// MetricsService owns the clearance Prometheus registry.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	windowExpiries  prometheus.Counter
	certificates    *prometheus.CounterVec

	counts workflowCounts
}

// NewMetricsService registers the HTTP, cache and workflow collectors next to
// the Go runtime and process collectors.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Projection cache lookups by result.",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "operation_seconds",
			Help:      "Projection cache latency by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"op"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Clearance submissions by type and outcome.",
		}, []string{"clearance_type", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decisions_total",
			Help:      "Stored department decisions by department and status.",
		}, []string{"department", "status"}),
		windowExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "window_expiries_total",
			Help:      "Windows closed because their end passed.",
		}),
		certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "certificates_total",
			Help:      "Certificate renders by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration, m.cacheLookups, m.cacheLatency,
		m.submissions, m.decisions, m.windowExpiries, m.certificates,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest satisfies the request middleware's observer.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
	m.counts.requests.Add(1)
	m.counts.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		m.counts.cacheHits.Add(1)
	} else {
		m.counts.cacheMisses.Add(1)
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
}

// ObserveCacheWrite records a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// RecordSubmission counts a submission attempt. outcome is SubmissionCreated or the error code.
func (m *MetricsService) RecordSubmission(clearanceType models.ClearanceType, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(clearanceType), outcome).Inc()
	if outcome == SubmissionCreated {
		m.counts.submissions.Add(1)
	}
}

// RecordDecision counts a stored department decision.
func (m *MetricsService) RecordDecision(dept models.DepartmentRole, status models.DecisionStatus) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(dept), string(status)).Inc()
	m.counts.decisions.Add(1)
}

// RecordWindowExpiry counts a window closed by lazy expiry.
func (m *MetricsService) RecordWindowExpiry() {
	if m == nil {
		return
	}
	m.windowExpiries.Inc()
	m.counts.expiries.Add(1)
}

// RecordCertificate counts a certificate render attempt.
func (m *MetricsService) RecordCertificate(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "rendered"
		m.counts.certificates.Add(1)
	}
	m.certificates.WithLabelValues(outcome).Inc()
}

// Snapshot summarises the counters for GET /admin/metrics.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.counts.cacheHits.Load(), m.counts.cacheMisses.Load()
	requests := m.counts.requests.Load()

	snap := models.SystemMetrics{
		CacheHits:            hits,
		CacheMisses:          misses,
		RequestsTotal:        requests,
		Submissions:          m.counts.submissions.Load(),
		Decisions:            m.counts.decisions.Load(),
		WindowExpiries:       m.counts.expiries.Load(),
		CertificatesRendered: m.counts.certificates.Load(),
		Goroutines:           runtime.NumGoroutine(),
		GeneratedAt:          time.Now().UTC(),
	}
	if lookups := hits + misses; lookups > 0 {
		snap.CacheHitRatio = float64(hits) / float64(lookups)
	}
	if requests > 0 {
		snap.AverageRequestDurationMs = float64(m.counts.requestNanos.Load()) / float64(requests) / float64(time.Millisecond)
	}
	return snap
}
