// Package auth provides the authentication bounded context module.
package auth

import (
	"crm_saas_backend/internal/auth/handler"
	"crm_saas_backend/internal/auth/repository"
	"crm_saas_backend/internal/auth/service"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthConfig is the configuration slice the module needs.
type AuthConfig interface {
	config.AuthServiceConfig
	config.CookieConfig
	GetDefaultPhoneRegion() string
}

// Module is the auth bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule wires repository, service and handler. access is the rbac service.
func NewModule(pool *pgxpool.Pool, access service.AccessLoader, cfg AuthConfig, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, access, cfg, eventBus, log, cfg.GetDefaultPhoneRegion())

	return &Module{
		handler: handler.New(svc, cfg, val),
		service: svc,
		repo:    repo,
	}
}

func (m *Module) Name() string {
	return "auth"
}

// Service is shared with users (session revocation) and tenants (registration tokens).
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository is used by the maintenance purge.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts auth routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/auth")
	public.Use(ctx.AuthRateLimiter.RateLimit())
	if ctx.TenantResolver != nil {
		public.Use(ctx.TenantResolver)
	}
	m.handler.RegisterPublicRoutes(public)

	m.handler.RegisterProtectedRoutes(ctx.Protected.Group("/auth"))
}

var _ apphttp.Module = (*Module)(nil)
