// Package metrics owns the Prometheus registry shared by the API and worker.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ua "github.com/mileusna/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crm"

// Registry groups the collectors. A nil *Registry is valid and records nothing.
type Registry struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	labels := []string{"method", "path", "status", "browser"}

	r := &Registry{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests received",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to respond to HTTP request",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background tasks processed by result",
		}, []string{"task", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Outbound webhook delivery attempts by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.requests, r.duration, r.jobs, r.webhooks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Middleware records request count and latency against the route template.
func (r *Registry) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		label := prometheus.Labels{
			"method":  c.Request.Method,
			"path":    route,
			"status":  statusClass(c.Writer.Status()),
			"browser": browser(c.GetHeader("User-Agent")),
		}
		r.duration.With(label).Observe(time.Since(start).Seconds())
		r.requests.With(label).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// JobProcessed counts one worker task run.
func (r *Registry) JobProcessed(task string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.jobs.WithLabelValues(task, result).Inc()
}

// WebhookDelivered counts one delivery attempt; result is success, failed or abandoned.
func (r *Registry) WebhookDelivered(result string) {
	if r == nil {
		return
	}
	r.webhooks.WithLabelValues(result).Inc()
}

func statusClass(code int) string {
	return fmt.Sprintf("%dXX", code/100)
}

// browser reduces a User-Agent header to its browser name.
func browser(header string) string {
	if header == "" {
		return "unknown"
	}
	name := ua.Parse(header).Name
	if name == "" {
		return "other"
	}
	return name
}
