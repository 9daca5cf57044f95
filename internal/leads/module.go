// Package leads handles prospects from first contact until conversion into a customer.
package leads

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/leads/handler"
	"crm_saas_backend/internal/leads/repository"
	"crm_saas_backend/internal/leads/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

func NewModule(pool *pgxpool.Pool, users service.UserChecker, eventBus events.Bus, log *logger.Logger, phoneRegion string, val *validator.Validator) *Module {
	svc := service.New(repository.New(pool), users, eventBus, log, phoneRegion)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "leads"
}

func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
}

var _ apphttp.Module = (*Module)(nil)
