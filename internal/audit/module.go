// Package audit keeps the per-tenant audit trail fed by domain events.
package audit

import (
	"crm_saas_backend/internal/audit/handler"
	"crm_saas_backend/internal/audit/repository"
	"crm_saas_backend/internal/audit/service"
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

// NewModule wires the audit trail and subscribes it to eventBus.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	svc := service.New(repository.New(pool), log)
	svc.Subscribe(eventBus)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "audit"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/audit-logs"))
}

var _ apphttp.Module = (*Module)(nil)
