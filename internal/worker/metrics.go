package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	outputsTotal         *prometheus.CounterVec
	generationsTotal     *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal *prometheus.CounterVec
	outputBytesTotal     *prometheus.CounterVec
	computeTimeMSTotal   *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_worker_tasks_total",
			Help: "Total worker tasks by task type and final status.",
		}, []string{"task", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mockupflow_worker_task_duration_seconds",
			Help:    "Processing duration for each worker task.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mockupflow_worker_active_tasks",
			Help: "Current number of tasks holding a processing slot.",
		}),
		outputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_worker_outputs_total",
			Help: "Images emitted by the worker by output name.",
		}, []string{"output"}),
		generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_worker_generations_total",
			Help: "Calls to the image generation service by result.",
		}, []string{"result"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_usage_pixels_processed_total",
			Help: "Output pixels produced by stage.",
		}, []string{"stage"}),
		outputBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_usage_output_bytes_total",
			Help: "Encoded output bytes written by stage.",
		}, []string{"stage"}),
		computeTimeMSTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockupflow_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds by stage.",
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.generationsTotal,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
