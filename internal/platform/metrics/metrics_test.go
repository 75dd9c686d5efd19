package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PipelineRecords("job", "extract", 3)
	m.PipelineQuality("job", 0.9)
	m.PipelineDuration("job", time.Second)
	m.Notification("email", "sent")
	m.WebhookDelivery(true)
	m.ExternalRequest("twilio", "ok")
	m.BackupRun("succeeded")
}

func TestCounters(t *testing.T) {
	m := New()
	m.PipelineRecords("daily", "loaded", 5)
	m.PipelineRecords("daily", "loaded", 2)
	m.Notification("sms", "sent")
	m.WebhookDelivery(false)

	if got := testutil.ToFloat64(m.pipelineRecords.WithLabelValues("daily", "loaded")); got != 7 {
		t.Errorf("pipeline_records_total = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("sms", "sent")); got != 1 {
		t.Errorf("notifications_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("failed")); got != 1 {
		t.Errorf("webhook_deliveries_total{failed} = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PipelineQuality("daily", 0.82)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/metrics", m.Handler())
	e.GET("/api/v1/health-data/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health-data/abc", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`healthmate_pipeline_quality_score{job="daily"} 0.82`,
		`route="/api/v1/health-data/:id"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
