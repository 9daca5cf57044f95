// Package rbac owns the permission catalog, per-tenant roles and data scopes.
package rbac

import (
	"context"

	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/rbac/catalog"
	"crm_saas_backend/internal/rbac/handler"
	"crm_saas_backend/internal/rbac/repository"
	"crm_saas_backend/internal/rbac/service"
	"crm_saas_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the rbac bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule loads the embedded catalog and system roles and builds the module.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator) (*Module, error) {
	cat, err := catalog.LoadCatalog()
	if err != nil {
		return nil, err
	}
	roles, err := catalog.DefaultRoles()
	if err != nil {
		return nil, err
	}

	svc := service.New(repository.New(pool), cat, roles, eventBus)
	return &Module{handler: handler.New(svc, val), service: svc}, nil
}

func (m *Module) Name() string {
	return "rbac"
}

// Service returns the service layer for use by auth, users and tenants.
func (m *Module) Service() *service.Service {
	return m.service
}

// Sync upserts the permission catalog. Run once on boot.
func (m *Module) Sync(ctx context.Context) error {
	return m.service.SyncPermissions(ctx)
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/roles"))
}

var _ apphttp.Module = (*Module)(nil)
