// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"
	"crm_saas_backend/platform/ratelimit"

	"github.com/gin-gonic/gin"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration (HTTP and JWT settings only).
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// Metrics records HTTP metrics and serves /metrics. Optional.
	Metrics *metrics.Registry
	// RateLimiter is the shared fixed-window limiter for /api/v1. Optional.
	RateLimiter *ratelimit.FixedWindow
	// TenantResolver resolves the tenant of anonymous requests (header or subdomain).
	TenantResolver gin.HandlerFunc
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
