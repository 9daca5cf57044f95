// Package segments defines contact audiences by rule criteria.
package segments

import (
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/segments/handler"
	"crm_saas_backend/internal/segments/repository"
	"crm_saas_backend/internal/segments/service"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

func NewModule(pool *pgxpool.Pool, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	svc := service.New(repository.New(pool), eventBus, log)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "segments"
}

// Service resolves audiences for campaign sends.
func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/segments"))
}

var _ apphttp.Module = (*Module)(nil)
