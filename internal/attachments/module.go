// Package attachments stores files against CRM records in object storage.
package attachments

import (
	"crm_saas_backend/internal/adapters/storage"
	"crm_saas_backend/internal/attachments/handler"
	"crm_saas_backend/internal/attachments/repository"
	"crm_saas_backend/internal/attachments/service"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
}

// NewModule wires attachments. store may be nil when storage is not configured.
func NewModule(pool *pgxpool.Pool, store storage.ObjectStore, bucket string, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repository.New(pool), store, bucket, log)
	return &Module{handler: handler.New(svc, val)}
}

func (m *Module) Name() string {
	return "attachments"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/attachments"))
}

var _ apphttp.Module = (*Module)(nil)
