// Package reports serves tenant analytics over opportunities, leads, tickets and activities.
package reports

import (
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/reports/handler"
	"crm_saas_backend/internal/reports/repository"
	"crm_saas_backend/internal/reports/service"
	"crm_saas_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Module struct {
	handler *handler.Handler
}

// NewModule wires reports. A nil client serves every report uncached.
func NewModule(pool *pgxpool.Pool, client redis.UniversalClient, log *logger.Logger) *Module {
	var cache service.Cache
	if client != nil {
		cache = service.NewRedisCache(client)
	}
	svc := service.New(repository.New(pool), cache, log)
	return &Module{handler: handler.New(svc)}
}

func (m *Module) Name() string {
	return "reports"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/reports"))
}

var _ apphttp.Module = (*Module)(nil)
