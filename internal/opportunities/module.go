// Package opportunities tracks deals through the sales pipeline.
package opportunities

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/opportunities/handler"
	"crm_saas_backend/internal/opportunities/repository"
	"crm_saas_backend/internal/opportunities/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

func NewModule(pool *pgxpool.Pool, customers, contacts service.EntityChecker, users service.UserChecker, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, customers, contacts, users, eventBus, log)
	return &Module{handler: handler.New(svc, val), service: svc, repo: repo}
}

func (m *Module) Name() string {
	return "opportunities"
}

func (m *Module) Service() *service.Service {
	return m.service
}

// Repository lets activities check deal references.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/opportunities"))
}

var _ apphttp.Module = (*Module)(nil)
