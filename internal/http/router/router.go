// Package router builds the gin engine from the composed App.
package router

import (
	"time"

	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// New wires global middleware, the /api/v1 groups and every module's routes.
func New(app *apphttp.App) *gin.Engine {
	if !app.Config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.ClientInfo())
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app.Config))
	engine.Use(httpkit.RequestLogger(app.Logger))
	if app.Metrics != nil {
		engine.Use(app.Metrics.Middleware())
		engine.GET("/metrics", gin.WrapH(app.Metrics.Handler()))
	}

	authMiddleware := httpkit.AuthRequired(app.Config)
	tenantResolver := app.TenantResolver
	if tenantResolver == nil {
		tenantResolver = func(c *gin.Context) { c.Next() }
	}

	v1 := engine.Group("/api/v1")
	protected := engine.Group("/api/v1", authMiddleware)
	if app.RateLimiter != nil {
		v1.Use(httpkit.FixedWindowLimit(app.RateLimiter, app.Logger))
		protected.Use(httpkit.FixedWindowLimit(app.RateLimiter, app.Logger))
	}

	rc := &apphttp.RouterContext{
		Engine:          engine,
		V1:              v1,
		Protected:       protected,
		Config:          app.Config,
		AuthMiddleware:  authMiddleware,
		AuthRateLimiter: httpkit.NewAuthRateLimiter(app.Logger),
		TenantResolver:  tenantResolver,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(rc)
		app.Logger.Debug("module routes registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(cfg apphttp.RouterConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Tenant-ID", httpkit.HeaderRequestID},
		ExposeHeaders:    []string{httpkit.HeaderRequestID, "Retry-After", "Content-Disposition"},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.GetCORSOrigins()
		if len(corsCfg.AllowOrigins) == 0 {
			corsCfg.AllowOrigins = []string{"http://localhost:3000"}
		}
	}
	return cors.New(corsCfg)
}
