// Package metrics exposes the station's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

type Metrics struct {
	reg *prometheus.Registry

	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	readingsAppended *prometheus.CounterVec
	sinkFailures     *prometheus.CounterVec
	captures         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantpi_job_runs_total",
			Help: "Job invocations by job and outcome (ok, failed, skipped).",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plantpi_job_duration_seconds",
			Help:    "Duration of job invocations that ran.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		readingsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantpi_readings_appended_total",
			Help: "Readings appended to the local history by stream.",
		}, []string{"stream"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantpi_sink_failures_total",
			Help: "Readings a sink failed to accept and that were dropped.",
		}, []string{"sink"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantpi_captures_total",
			Help: "Image captures by result.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantpi_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plantpi_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobRuns,
		m.jobDuration,
		m.readingsAppended,
		m.sinkFailures,
		m.captures,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// JobFinished implements scheduler.Observer.
func (m *Metrics) JobFinished(name string, outcome scheduler.Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(name, string(outcome)).Inc()
	if outcome != scheduler.OutcomeSkipped {
		m.jobDuration.WithLabelValues(name).Observe(took.Seconds())
	}
}

// ReadingAppended implements history.Recorder.
func (m *Metrics) ReadingAppended(stream string) {
	if m == nil {
		return
	}
	m.readingsAppended.WithLabelValues(stream).Inc()
}

// SinkFailed implements history.Recorder.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Capture(status string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests under a fixed route label.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
