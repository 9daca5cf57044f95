// Package tenants owns tenant provisioning and anonymous tenant resolution.
package tenants

import (
	"context"
	"strings"

	"crm_saas_backend/internal/auth/password"
	"crm_saas_backend/internal/events"
	apphttp "crm_saas_backend/internal/http"
	"crm_saas_backend/internal/tenants/handler"
	"crm_saas_backend/internal/tenants/repository"
	"crm_saas_backend/internal/tenants/resolver"
	"crm_saas_backend/internal/tenants/service"
	usersrepo "crm_saas_backend/internal/users/repository"
	"crm_saas_backend/platform/config"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"
	"crm_saas_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the tenants bounded context module implementing http.Module.
type Module struct {
	handler  *handler.Handler
	service  *service.Service
	resolver *resolver.Resolver
}

func NewModule(
	pool *pgxpool.Pool,
	roles service.RoleSeeder,
	tokens service.TokenIssuer,
	cfg config.TenantConfig,
	eventBus events.Bus,
	log *logger.Logger,
	val *validator.Validator,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, roles, adminWriter{}, tokens, eventBus, log, cfg.GetPlatformTenant())
	res := resolver.New(svc, cfg.GetTenantBaseDomain(), resolver.DefaultTTL)

	return &Module{
		handler:  handler.New(svc, res, val),
		service:  svc,
		resolver: res,
	}
}

func (m *Module) Name() string {
	return "tenants"
}

func (m *Module) Service() *service.Service {
	return m.service
}

// Resolver is installed as RouterContext.TenantResolver.
func (m *Module) Resolver() *resolver.Resolver {
	return m.resolver
}

// Bootstrap creates the platform tenant and its optional admin on first boot.
func (m *Module) Bootstrap(ctx context.Context, cfg config.BootstrapConfig) error {
	return m.service.EnsurePlatformTenant(ctx, cfg.GetPlatformAdminEmail(), cfg.GetPlatformAdminPassword())
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/tenants")
	public.Use(ctx.AuthRateLimiter.RateLimit())
	public.POST("/register", m.handler.Register)

	m.handler.RegisterRoutes(ctx.Protected.Group("/tenants"))
}

// adminWriter creates the tenant's first user through the users repository.
type adminWriter struct{}

func (adminWriter) InsertAdmin(ctx context.Context, q db.Querier, tenantID uuid.UUID, admin service.Admin, roleID uuid.UUID) (uuid.UUID, error) {
	hash, err := password.Hash(admin.Password)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := usersrepo.InsertUser(ctx, q, usersrepo.CreateParams{
		TenantID:     tenantID,
		Email:        strings.ToLower(strings.TrimSpace(admin.Email)),
		PasswordHash: hash,
		FirstName:    sanitize.Text(admin.FirstName),
		LastName:     sanitize.Text(admin.LastName),
	})
	if err != nil {
		return uuid.Nil, err
	}
	if roleID == uuid.Nil {
		return id, nil
	}
	return id, usersrepo.ReplaceRoles(ctx, q, id, []uuid.UUID{roleID})
}

var _ apphttp.Module = (*Module)(nil)
