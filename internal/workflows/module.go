// Package workflows stores rule-based automations and runs them on entity
// changes and on cron schedules.
package workflows

import (
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/workflows/handler"
	"crm_saas_backend/internal/workflows/repository"
	"crm_saas_backend/internal/workflows/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
	log     *logger.Logger
}

func NewModule(pool *pgxpool.Pool, users service.UserChecker, mailer email.Sender, eventBus events.Bus, log *logger.Logger, val *validator.Validator, opts service.Options) *Module {
	svc := service.New(repository.New(pool), users, mailer, eventBus, log, val, opts)
	return &Module{handler: handler.New(svc, val), service: svc, log: log}
}

func (m *Module) Name() string {
	return "workflows"
}

// Service exposes RunScheduled to the worker.
func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/workflows"))
}

// RegisterHandlers subscribes the engine to entity changes.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.EntityChanged{}.EventName(), m.service)
	m.log.Info("workflow engine registered event handlers")
}

var _ apphttp.Module = (*Module)(nil)
