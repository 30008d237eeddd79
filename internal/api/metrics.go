package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	jobsCreated       *prometheus.CounterVec
	presignedURLs     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_api_requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mockupflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_api_rate_limit_rejections_total",
			Help: "Mutating requests rejected by the token bucket.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_queue_tasks_enqueued_total",
			Help: "Compose and enhance tasks enqueued, by queue and task type.",
		}, []string{"queue", "task"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_api_jobs_created_total",
			Help: "Mockup jobs created, by catalog template and source type.",
		}, []string{"mockup", "source_type"}),
		presignedURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_api_presigned_urls_total",
			Help: "Presigned object URLs issued, by direction and object kind.",
		}, []string{"method", "kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.jobsCreated,
		m.presignedURLs,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// mockupLabel keeps the label set bounded to the catalog; custom bases share
// one value.
func mockupLabel(mockupID string) string {
	if _, ok := domain.FindMockup(mockupID); ok {
		return mockupID
	}
	return "custom"
}

// routes lists the path shapes used as metric and rate-limit labels. A "*"
// segment matches any single id.
var routes = [][]string{
	{"healthz"},
	{"metrics"},
	{"v1", "mockups"},
	{"v1", "jobs"},
	{"v1", "jobs", "*"},
	{"v1", "jobs", "*", "start"},
	{"v1", "jobs", "*", "enhance"},
	{"v1", "projects", "*"},
}

// routeLabel collapses ids out of the path so label cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, shape := range routes {
		if matchShape(shape, parts) {
			return "/" + strings.ReplaceAll(strings.Join(shape, "/"), "*", "{id}")
		}
	}
	return "unmatched"
}

func matchShape(shape, parts []string) bool {
	if len(shape) != len(parts) {
		return false
	}
	for i, seg := range shape {
		if seg == "*" {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
