// Package exports writes tenant records as CSV, streamed or stored in object storage.
package exports

import (
	"crm_saas_backend/internal/adapters/storage"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *Handler
}

// NewModule wires exports. store may be nil; stored exports then answer 503.
func NewModule(pool *pgxpool.Pool, store storage.ObjectStore, bucket string, val *validator.Validator, log *logger.Logger) *Module {
	exporter := NewExporter(NewRepository(pool), store, bucket, log)
	return &Module{handler: NewHandler(exporter, val, log)}
}

func (m *Module) Name() string {
	return "exports"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	g := ctx.Protected.Group("/exports")
	g.Use(httpkit.RequirePermission("exports.create"))
	g.GET("/:file", m.handler.Download)
	g.POST("", m.handler.Store)
}

var _ apphttp.Module = (*Module)(nil)
