// Package contacts manages the people who work at customers.
package contacts

import (
	"crm_saas_backend/internal/contacts/handler"
	"crm_saas_backend/internal/contacts/repository"
	"crm_saas_backend/internal/contacts/service"
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
	return "contacts"
}

func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/contacts"))
}

var _ apphttp.Module = (*Module)(nil)
