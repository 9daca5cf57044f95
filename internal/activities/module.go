// Package activities holds calls, meetings, tasks and the reminders that chase them.
package activities

import (
	"crm_saas_backend/internal/activities/handler"
	"crm_saas_backend/internal/activities/repository"
	"crm_saas_backend/internal/activities/service"
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

func NewModule(pool *pgxpool.Pool, contacts, deals service.EntityChecker, users service.UserChecker, eventBus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, contacts, deals, users, eventBus, log)
	return &Module{handler: handler.New(svc, val), service: svc}
}

func (m *Module) Name() string {
	return "activities"
}

func (m *Module) Service() *service.Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/activities"))
}

var _ apphttp.Module = (*Module)(nil)
