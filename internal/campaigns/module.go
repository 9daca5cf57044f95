// Package campaigns manages marketing campaigns and their email sends.
package campaigns

import (
	"crm_saas_backend/internal/campaigns/handler"
	"crm_saas_backend/internal/campaigns/repository"
	"crm_saas_backend/internal/campaigns/service"
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the campaigns module. queue may be nil when no job queue is configured;
// sends then fail with 503.
func NewModule(pool *pgxpool.Pool, audiences service.Audiences, queue service.Enqueuer, mailer email.Sender, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	svc := service.New(repository.New(pool), audiences, queue, mailer, eventBus, log)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "campaigns"
}

// Service exposes ProcessSend to the worker.
func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/campaigns"))
}

var _ apphttp.Module = (*Module)(nil)
