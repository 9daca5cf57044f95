package service

import (
	"context"
	"errors"
	"strings"

	authtransport "crm_saas_backend/internal/auth/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/tenants/repository"
	"crm_saas_backend/internal/tenants/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgTenantNotFound      = "tenant not found"
	msgIdentifierExists    = "tenant identifier already exists"
	msgPlatformUndeletable = "the platform tenant cannot be deleted"

	PlanFree         = "Free"
	PlanStarter      = "Starter"
	PlanProfessional = "Professional"
	PlanEnterprise   = "Enterprise"

	StatusActive = "Active"

	adminRole = "Admin"
	gib       = int64(1) << 30
)

// PlanLimits are the seat and storage defaults applied when a tenant does not set its own.
type PlanLimits struct {
	MaxUsers        int
	MaxStorageBytes int64
}

var planLimits = map[string]PlanLimits{
	PlanFree:         {MaxUsers: 5, MaxStorageBytes: 1 * gib},
	PlanStarter:      {MaxUsers: 25, MaxStorageBytes: 10 * gib},
	PlanProfessional: {MaxUsers: 100, MaxStorageBytes: 100 * gib},
	PlanEnterprise:   {MaxUsers: 1000, MaxStorageBytes: 1024 * gib},
}

// LimitsFor returns the defaults of plan, falling back to Free.
func LimitsFor(plan string) PlanLimits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[PlanFree]
}

type Repository interface {
	List(ctx context.Context, params repository.ListParams) ([]repository.Tenant, int, error)
	Get(ctx context.Context, id uuid.UUID) (repository.Tenant, error)
	Resolve(ctx context.Context, key string) (repository.Tenant, error)
	Users(ctx context.Context, tenantID uuid.UUID) ([]repository.TenantUser, error)
	IdentifierExists(ctx context.Context, identifier string) (bool, error)
	Provision(ctx context.Context, p repository.CreateParams, setup func(ctx context.Context, q db.Querier, t repository.Tenant) error) (repository.Tenant, error)
	Update(ctx context.Context, id uuid.UUID, p repository.UpdateParams) (repository.Tenant, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// RoleSeeder creates the system roles of a new tenant on q.
type RoleSeeder interface {
	SeedTenantRoles(ctx context.Context, q db.Querier, tenantID uuid.UUID, platformTenant bool) (map[string]uuid.UUID, error)
}

// Admin is the first user of a new tenant.
type Admin struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AdminWriter inserts a user holding roleID on q.
type AdminWriter interface {
	InsertAdmin(ctx context.Context, q db.Querier, tenantID uuid.UUID, admin Admin, roleID uuid.UUID) (uuid.UUID, error)
}

// TokenIssuer signs in a freshly registered admin.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, tenantID, userID uuid.UUID) (authtransport.AuthResponse, error)
}

type Service struct {
	repo           Repository
	roles          RoleSeeder
	admins         AdminWriter
	tokens         TokenIssuer
	bus            events.Bus
	log            *logger.Logger
	platformTenant string
}

func New(repo Repository, roles RoleSeeder, admins AdminWriter, tokens TokenIssuer, bus events.Bus, log *logger.Logger, platformTenant string) *Service {
	return &Service{
		repo:           repo,
		roles:          roles,
		admins:         admins,
		tokens:         tokens,
		bus:            bus,
		log:            log,
		platformTenant: strings.ToLower(platformTenant),
	}
}

func (s *Service) List(ctx context.Context, page httpkit.PageParams) (httpkit.Paged[transport.TenantResponse], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, repository.ListParams{
		Search:    page.Search,
		SortBy:    page.SortBy,
		SortOrder: page.SortOrder,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		return httpkit.Paged[transport.TenantResponse]{}, err
	}
	out := make([]transport.TenantResponse, len(items))
	for i, t := range items {
		out[i] = toResponse(t)
		count := t.UserCount
		out[i].UserCount = &count
	}
	return httpkit.NewPaged(out, total, page), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.TenantDetailResponse, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return transport.TenantDetailResponse{}, mapErr(err)
	}
	users, err := s.repo.Users(ctx, id)
	if err != nil {
		return transport.TenantDetailResponse{}, err
	}
	out := transport.TenantDetailResponse{TenantResponse: toResponse(t), Users: make([]transport.TenantUserResponse, len(users))}
	for i, u := range users {
		roles := u.Roles
		if roles == nil {
			roles = []string{}
		}
		out.Users[i] = transport.TenantUserResponse{
			ID:          u.ID,
			Email:       u.Email,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			FullName:    strings.TrimSpace(u.FirstName + " " + u.LastName),
			Phone:       u.Phone,
			Status:      u.Status,
			LastLoginAt: u.LastLoginAt,
			Roles:       roles,
		}
	}
	return out, nil
}

// Register is the anonymous sign-up: tenant, roles and Admin in one transaction, then tokens.
func (s *Service) Register(ctx context.Context, req transport.RegisterTenantRequest) (transport.RegisterTenantResponse, error) {
	admin := &Admin{
		Email:     req.AdminUser.Email,
		Password:  req.AdminUser.Password,
		FirstName: req.AdminUser.FirstName,
		LastName:  req.AdminUser.LastName,
	}
	t, adminID, err := s.provision(ctx, req.TenantFields, admin, nil)
	if err != nil {
		return transport.RegisterTenantResponse{}, err
	}

	auth, err := s.tokens.IssueTokens(ctx, t.ID, adminID)
	if err != nil {
		return transport.RegisterTenantResponse{}, err
	}
	return transport.RegisterTenantResponse{
		Tenant:       toResponse(t),
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		ExpiresIn:    auth.ExpiresIn,
		TenantID:     t.ID,
		UserID:       adminID,
	}, nil
}

// Create is the platform admin variant of Register. No tokens are issued.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, req transport.CreateTenantRequest) (transport.TenantResponse, error) {
	var admin *Admin
	if req.AdminEmail != nil {
		admin = &Admin{
			Email:     *req.AdminEmail,
			Password:  deref(req.AdminPassword),
			FirstName: deref(req.AdminFirstName),
			LastName:  deref(req.AdminLastName),
		}
	}
	t, _, err := s.provision(ctx, req.TenantFields, admin, &actorID)
	if err != nil {
		return transport.TenantResponse{}, err
	}
	return toResponse(t), nil
}

func (s *Service) provision(ctx context.Context, f transport.TenantFields, admin *Admin, actorID *uuid.UUID) (repository.Tenant, uuid.UUID, error) {
	identifier := strings.ToLower(strings.TrimSpace(f.Identifier))
	exists, err := s.repo.IdentifierExists(ctx, identifier)
	if err != nil {
		return repository.Tenant{}, uuid.Nil, err
	}
	if exists {
		return repository.Tenant{}, uuid.Nil, apperr.Conflict(msgIdentifierExists)
	}

	plan := f.Plan
	if plan == "" {
		plan = PlanFree
	}
	limits := LimitsFor(plan)
	if f.MaxUsers != nil {
		limits.MaxUsers = *f.MaxUsers
	}
	if f.MaxStorageBytes != nil {
		limits.MaxStorageBytes = *f.MaxStorageBytes
	}

	platform := identifier == s.platformTenant
	var adminID uuid.UUID
	t, err := s.repo.Provision(ctx, repository.CreateParams{
		Name:            sanitize.Text(f.Name),
		Identifier:      identifier,
		Subdomain:       lowerPtr(f.Subdomain),
		Plan:            plan,
		MaxUsers:        limits.MaxUsers,
		MaxStorageBytes: limits.MaxStorageBytes,
		LogoURL:         f.LogoURL,
		PrimaryColor:    f.PrimaryColor,
		TimeZone:        f.TimeZone,
		Culture:         f.Culture,
	}, func(ctx context.Context, q db.Querier, t repository.Tenant) error {
		roleIDs, err := s.roles.SeedTenantRoles(ctx, q, t.ID, platform)
		if err != nil {
			return err
		}
		if admin == nil {
			return nil
		}
		adminID, err = s.admins.InsertAdmin(ctx, q, t.ID, *admin, roleIDs[adminRole])
		return err
	})
	if err != nil {
		return repository.Tenant{}, uuid.Nil, mapErr(err)
	}

	evt := events.TenantRegistered{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   t.ID,
		Name:       t.Name,
		Identifier: t.Identifier,
	}
	if admin != nil {
		evt.AdminID = &adminID
		evt.AdminEmail = strings.ToLower(admin.Email)
	}
	s.bus.Publish(ctx, evt)
	s.publish(ctx, t.ID, actorID, events.ActionCreated, toResponse(t), nil)
	return t, adminID, nil
}

func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, req transport.UpdateTenantRequest) (transport.TenantResponse, error) {
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return transport.TenantResponse{}, mapErr(err)
	}

	p := repository.UpdateParams{
		Name:            sanitize.TextPtr(req.Name),
		Subdomain:       lowerPtr(req.Subdomain),
		Status:          req.Status,
		Plan:            req.Plan,
		MaxUsers:        req.MaxUsers,
		MaxStorageBytes: req.MaxStorageBytes,
		LogoURL:         req.LogoURL,
		PrimaryColor:    req.PrimaryColor,
		TimeZone:        req.TimeZone,
		Culture:         req.Culture,
	}
	// A plan change without explicit limits moves the tenant onto the new plan's defaults.
	if req.Plan != nil && *req.Plan != before.Plan {
		limits := LimitsFor(*req.Plan)
		if p.MaxUsers == nil {
			p.MaxUsers = &limits.MaxUsers
		}
		if p.MaxStorageBytes == nil {
			p.MaxStorageBytes = &limits.MaxStorageBytes
		}
	}

	t, err := s.repo.Update(ctx, id, p)
	if err != nil {
		return transport.TenantResponse{}, mapErr(err)
	}
	resp := toResponse(t)
	s.publish(ctx, id, &actorID, events.ActionUpdated, resp, events.Snapshot(toResponse(before)))
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return mapErr(err)
	}
	if strings.EqualFold(t.Identifier, s.platformTenant) {
		return apperr.BadRequest(msgPlatformUndeletable)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return mapErr(err)
	}
	s.publish(ctx, id, &actorID, events.ActionDeleted, toResponse(t), nil)
	return nil
}

// Resolve looks a tenant up by UUID, identifier or subdomain.
func (s *Service) Resolve(ctx context.Context, key string) (repository.Tenant, error) {
	if id, err := uuid.Parse(key); err == nil {
		return s.repo.Get(ctx, id)
	}
	return s.repo.Resolve(ctx, key)
}

// EnsurePlatformTenant creates the platform tenant on first boot, optionally with an admin.
func (s *Service) EnsurePlatformTenant(ctx context.Context, adminEmail, adminPassword string) error {
	if s.platformTenant == "" {
		return nil
	}
	exists, err := s.repo.IdentifierExists(ctx, s.platformTenant)
	if err != nil || exists {
		return err
	}

	var admin *Admin
	if adminEmail != "" {
		admin = &Admin{Email: adminEmail, Password: adminPassword, FirstName: "Platform", LastName: "Admin"}
	}
	_, _, err = s.provision(ctx, transport.TenantFields{
		Name:       "Platform",
		Identifier: s.platformTenant,
		Plan:       PlanEnterprise,
	}, admin, nil)
	if err != nil {
		return err
	}
	s.log.Info("platform tenant created", "identifier", s.platformTenant, "with_admin", admin != nil)
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID, action events.Action, resp transport.TenantResponse, previous map[string]any) {
	var actor uuid.UUID
	if actorID != nil {
		actor = *actorID
	}
	s.bus.Publish(ctx, events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityTenant,
		EntityID:   tenantID,
		Action:     action,
		ActorID:    actor,
		Data:       events.Snapshot(resp),
		Previous:   previous,
	})
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msgTenantNotFound)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict(msgIdentifierExists)
	}
	return err
}

func toResponse(t repository.Tenant) transport.TenantResponse {
	return transport.TenantResponse{
		ID:              t.ID,
		Name:            t.Name,
		Identifier:      t.Identifier,
		Subdomain:       t.Subdomain,
		Status:          t.Status,
		Plan:            t.Plan,
		MaxUsers:        t.MaxUsers,
		MaxStorageBytes: t.MaxStorageBytes,
		LogoURL:         t.LogoURL,
		PrimaryColor:    t.PrimaryColor,
		TimeZone:        t.TimeZone,
		Culture:         t.Culture,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func lowerPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*s))
	if v == "" {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
