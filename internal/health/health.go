// Package health serves liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	apphttp "crm_saas_backend/internal/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	StatusHealthy   = "Healthy"
	StatusUnhealthy = "Unhealthy"

	// TagReady marks checks that gate /health/ready.
	TagReady = "ready"

	checkTimeout = 5 * time.Second
)

// Pinger is satisfied by db.PoolAdapter and similar clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named dependency probe.
type Check struct {
	Name        string
	Description string
	Tags        []string
	Run         func(ctx context.Context) error
}

// CheckResult is the JSON shape of one probe outcome.
type CheckResult struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Error       string `json:"error,omitempty"`
}

// Report is the /health response body.
type Report struct {
	Status        string        `json:"status"`
	Checks        []CheckResult `json:"checks"`
	TotalDuration string        `json:"totalDuration"`
}

// Module registers /health, /health/live and /health/ready on the engine.
type Module struct {
	checks []Check
}

func NewModule(checks ...Check) *Module {
	return &Module{checks: checks}
}

// DatabaseCheck probes PostgreSQL.
func DatabaseCheck(p Pinger) Check {
	return Check{Name: "database", Description: "PostgreSQL connection", Tags: []string{TagReady}, Run: p.Ping}
}

// RedisCheck probes the Redis instance backing the job queue, rate limits and report cache.
func RedisCheck(client redis.UniversalClient) Check {
	return Check{
		Name:        "redis",
		Description: "Redis job queue and cache",
		Tags:        []string{TagReady},
		Run: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func (m *Module) Name() string { return "health" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/health", m.handle(""))
	ctx.Engine.GET("/health/ready", m.handle(TagReady))
	ctx.Engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": StatusHealthy})
	})
}

func (m *Module) handle(tag string) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := m.Run(c.Request.Context(), tag)
		status := http.StatusOK
		if report.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// Run executes the checks carrying tag (all checks when tag is empty) concurrently.
func (m *Module) Run(ctx context.Context, tag string) Report {
	start := time.Now()
	selected := make([]Check, 0, len(m.checks))
	for _, check := range m.checks {
		if tag == "" || hasTag(check.Tags, tag) {
			selected = append(selected, check)
		}
	}

	results := make([]CheckResult, len(selected))
	var wg sync.WaitGroup
	for i, check := range selected {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, r := range results {
		if r.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}

	return Report{Status: overall, Checks: results, TotalDuration: time.Since(start).String()}
}

func runCheck(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Run(ctx)
	result := CheckResult{
		Name:        check.Name,
		Status:      StatusHealthy,
		Description: check.Description,
		Duration:    time.Since(start).String(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

var _ apphttp.Module = (*Module)(nil)
