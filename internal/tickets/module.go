// Package tickets is the support desk: numbered tickets with SLA tracking and escalation.
package tickets

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/tickets/handler"
	"crm_saas_backend/internal/tickets/repository"
	"crm_saas_backend/internal/tickets/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

func NewModule(pool *pgxpool.Pool, customers, contacts service.EntityChecker, users service.UserChecker, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, customers, contacts, users, eventBus, log)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "tickets"
}

// Service exposes the breach check to the worker.
func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/tickets"))
}

var _ apphttp.Module = (*Module)(nil)
