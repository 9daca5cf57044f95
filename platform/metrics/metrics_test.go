package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := New()

	r := gin.New()
	r.Use(reg.Middleware())
	r.GET("/api/v1/leads/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/0b6a1f1c-7e0e-4a55-9b1f-1c2d3e4f5a6b", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(reg.requests.WithLabelValues(http.MethodGet, "/api/v1/leads/:id", "2XX", "Chrome"))
	if got != 1 {
		t.Fatalf("expected one request recorded under the route template, got %v", got)
	}
}

func TestJobAndWebhookCounters(t *testing.T) {
	reg := New()
	reg.JobProcessed("sla:breach-check", nil)
	reg.JobProcessed("sla:breach-check", errors.New("db down"))
	reg.WebhookDelivered("success")

	if testutil.ToFloat64(reg.jobs.WithLabelValues("sla:breach-check", "error")) != 1 {
		t.Fatal("expected one failed job")
	}
	if testutil.ToFloat64(reg.webhooks.WithLabelValues("success")) != 1 {
		t.Fatal("expected one successful delivery")
	}

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "crm_jobs_processed_total") {
		t.Fatal("expected job counter in exposition output")
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var reg *Registry
	reg.JobProcessed("x", nil)
	reg.WebhookDelivered("failed")
}
