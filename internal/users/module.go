// Package users manages the people who sign in to a tenant.
package users

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/users/handler"
	"crm_saas_backend/internal/users/repository"
	"crm_saas_backend/internal/users/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the users bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

func NewModule(
	pool *pgxpool.Pool,
	roles service.RoleValidator,
	sessions service.SessionRevoker,
	eventBus events.Bus,
	log *logger.Logger,
	phoneRegion string,
	val *validator.Validator,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, roles, sessions, eventBus, log, phoneRegion)
	return &Module{handler: handler.New(svc, val), service: svc, repo: repo}
}

func (m *Module) Name() string {
	return "users"
}

// Repository exposes user contact lookups for reminders and alerts.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/users"))
}

var _ apphttp.Module = (*Module)(nil)
