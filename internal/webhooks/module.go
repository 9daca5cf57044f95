// Package webhooks delivers domain events to tenant-registered HTTP endpoints.
package webhooks

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/webhooks/handler"
	"crm_saas_backend/internal/webhooks/repository"
	"crm_saas_backend/internal/webhooks/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

func NewModule(pool *pgxpool.Pool, eventBus events.Bus, log *logger.Logger, reg *metrics.Registry, val *validator.Validator, opts service.Options) *Module {
	svc := service.New(repository.New(pool), eventBus, log, reg, opts)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "webhooks"
}

// Service exposes the dispatcher to the worker.
func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/webhooks"))
}

// RegisterHandlers installs the outbox writer for every webhook-visible event.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.Wildcard, m.service)
}

var _ apphttp.Module = (*Module)(nil)
