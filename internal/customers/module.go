// Package customers manages the accounts a tenant sells to.
package customers

import (
	"crm_saas_backend/internal/customers/handler"
	"crm_saas_backend/internal/customers/repository"
	"crm_saas_backend/internal/customers/service"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

func NewModule(pool *pgxpool.Pool, users service.UserChecker, eventBus events.Bus, log *logger.Logger, phoneRegion string, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, users, eventBus, log, phoneRegion)
	return &Module{handler: handler.New(svc, val), service: svc, repo: repo}
}

func (m *Module) Name() string {
	return "customers"
}

func (m *Module) Service() *service.Service {
	return m.service
}

// Repository backs customer existence checks in other modules.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/customers"))
}

var _ apphttp.Module = (*Module)(nil)
