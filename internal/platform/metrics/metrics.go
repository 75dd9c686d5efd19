// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing, so services can be built
// without metrics in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

const namespace = "healthmate"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	pipelineRecords   *prometheus.CounterVec
	pipelineQuality   *prometheus.GaugeVec
	pipelineDuration  *prometheus.HistogramVec
	notifications     *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	externalRequests  *prometheus.CounterVec
	backupRuns        *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		pipelineRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_total",
			Help:      "Records processed by ETL jobs per stage",
		}, []string{"job", "stage"}),

		pipelineQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_quality_score",
			Help:      "Data-quality score of the last ETL batch",
		}, []string{"job"}),

		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_job_duration_seconds",
			Help:      "ETL job run duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by channel and resulting status",
		}, []string{"channel", "status"}),

		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome",
		}, []string{"status"}),

		externalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "Outbound third-party API calls by service and outcome",
		}, []string{"service", "outcome"}),

		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_runs_total",
			Help:      "Backup runs by status",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.pipelineRecords, m.pipelineQuality, m.pipelineDuration,
		m.notifications, m.webhookDeliveries, m.externalRequests, m.backupRuns,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}

// Middleware records request counts and latency keyed by the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = apperr.Normalize(err).Status
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) PipelineRecords(job, stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pipelineRecords.WithLabelValues(job, stage).Add(float64(n))
}

func (m *Metrics) PipelineQuality(job string, score float64) {
	if m == nil {
		return
	}
	m.pipelineQuality.WithLabelValues(job).Set(score)
}

func (m *Metrics) PipelineDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) Notification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) WebhookDelivery(success bool) {
	if m == nil {
		return
	}
	status := "failed"
	if success {
		status = "delivered"
	}
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) ExternalRequest(service, outcome string) {
	if m == nil {
		return
	}
	m.externalRequests.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) BackupRun(status string) {
	if m == nil {
		return
	}
	m.backupRuns.WithLabelValues(status).Inc()
}
