// Package service implements role and permission management.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rbac/catalog"
	"crm_saas_backend/internal/rbac/repository"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/internal/rbac/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgRoleNotFound        = "role not found"
	msgRoleNameExists      = "role name already exists"
	msgUnknownPermissions  = "one or more permissions do not exist"
	msgSystemRoleModify    = "cannot modify system roles"
	msgSystemRolePerms     = "cannot modify system role permissions"
	msgSystemRoleDelete    = "cannot delete system roles"
	msgRoleHasAssignedUser = "cannot delete role with assigned users"
)

// Repository is the persistence surface used by the service.
type Repository interface {
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]repository.Role, error)
	GetRole(ctx context.Context, tenantID, id uuid.UUID) (repository.Role, error)
	RolePermissions(ctx context.Context, tenantID, roleID uuid.UUID) ([]repository.Permission, error)
	ListPermissions(ctx context.Context) ([]repository.Permission, error)
	RoleNameExists(ctx context.Context, tenantID uuid.UUID, name string, excludeID *uuid.UUID) (bool, error)
	CountPermissions(ctx context.Context, ids []uuid.UUID) (int, error)
	PlatformPermissionCount(ctx context.Context, ids []uuid.UUID, modules []string) (int, error)
	CreateRole(ctx context.Context, params repository.CreateRoleParams) (repository.Role, error)
	UpdateRole(ctx context.Context, tenantID, id uuid.UUID, params repository.UpdateRoleParams) (repository.Role, error)
	ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, ids []uuid.UUID) error
	SoftDeleteRole(ctx context.Context, tenantID, id uuid.UUID) error
	CountValidRoles(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error)
	UserAccess(ctx context.Context, tenantID, userID uuid.UUID) (repository.UserAccess, error)
	UpsertPermission(ctx context.Context, code, name, module string, description *string) error
}

type Service struct {
	repo    Repository
	catalog *catalog.Catalog
	roles   []catalog.RoleDef
	bus     events.Bus
}

func New(repo Repository, cat *catalog.Catalog, roles []catalog.RoleDef, bus events.Bus) *Service {
	return &Service{repo: repo, catalog: cat, roles: roles, bus: bus}
}

// SyncPermissions upserts every catalog permission. Called on boot.
func (s *Service) SyncPermissions(ctx context.Context) error {
	for _, m := range s.catalog.Modules {
		for _, p := range m.Permissions {
			var desc *string
			if p.Description != "" {
				d := p.Description
				desc = &d
			}
			if err := s.repo.UpsertPermission(ctx, p.Code, p.Name, m.Module, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// SeedTenantRoles creates the system roles for a new tenant on q and returns their ids by name.
func (s *Service) SeedTenantRoles(ctx context.Context, q db.Querier, tenantID uuid.UUID, platformTenant bool) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(s.roles))
	for _, def := range s.roles {
		desc := def.Description
		id, err := repository.InsertRoleWithCodes(ctx, q, repository.CreateRoleParams{
			TenantID:     tenantID,
			Name:         def.Name,
			Description:  &desc,
			IsSystemRole: true,
			DataScope:    string(def.DataScope),
		}, s.catalog.RoleCodes(def, platformTenant))
		if err != nil {
			return nil, err
		}
		ids[def.Name] = id
	}
	return ids, nil
}

// Access resolves a user's roles, permission codes and effective data scope.
func (s *Service) Access(ctx context.Context, tenantID, userID uuid.UUID) (roles, permissions []string, dataScope scope.DataScope, err error) {
	access, err := s.repo.UserAccess(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, "", err
	}
	return access.Roles, access.Permissions, scope.MostPermissive(access.Scopes), nil
}

// ValidateRoleIDs fails with 400 unless every id is a live role of the tenant.
func (s *Service) ValidateRoleIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	n, err := s.repo.CountValidRoles(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return apperr.BadRequest("one or more roles do not exist")
	}
	return nil
}

func (s *Service) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]transport.RoleResponse, error) {
	roles, err := s.repo.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]transport.RoleResponse, len(roles))
	for i, r := range roles {
		out[i] = toRoleResponse(r, nil)
	}
	return out, nil
}

func (s *Service) GetRole(ctx context.Context, tenantID, id uuid.UUID) (transport.RoleResponse, error) {
	role, err := s.repo.GetRole(ctx, tenantID, id)
	if err != nil {
		return transport.RoleResponse{}, mapNotFound(err)
	}
	perms, err := s.repo.RolePermissions(ctx, tenantID, id)
	if err != nil {
		return transport.RoleResponse{}, err
	}
	return toRoleResponse(role, perms), nil
}

// ListPermissionModules groups the catalog by module, modules and codes sorted.
func (s *Service) ListPermissionModules(ctx context.Context) ([]transport.PermissionModuleResponse, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]transport.PermissionResponse)
	for _, p := range perms {
		grouped[p.Module] = append(grouped[p.Module], toPermissionResponse(p))
	}
	modules := make([]string, 0, len(grouped))
	for m := range grouped {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	out := make([]transport.PermissionModuleResponse, 0, len(modules))
	for _, m := range modules {
		items := grouped[m]
		sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
		out = append(out, transport.PermissionModuleResponse{Module: m, Permissions: items})
	}
	return out, nil
}

func (s *Service) CreateRole(ctx context.Context, tenantID, actorID uuid.UUID, req transport.CreateRoleRequest) (transport.RoleResponse, error) {
	name := strings.TrimSpace(req.Name)
	exists, err := s.repo.RoleNameExists(ctx, tenantID, name, nil)
	if err != nil {
		return transport.RoleResponse{}, err
	}
	if exists {
		return transport.RoleResponse{}, apperr.BadRequest(msgRoleNameExists)
	}

	ids := uniqueIDs(req.PermissionIDs)
	if err := s.checkPermissionIDs(ctx, ids); err != nil {
		return transport.RoleResponse{}, err
	}

	role, err := s.repo.CreateRole(ctx, repository.CreateRoleParams{
		TenantID:      tenantID,
		Name:          name,
		Description:   sanitize.TextPtr(req.Description),
		DataScope:     string(req.DataScope),
		PermissionIDs: ids,
	})
	if err != nil {
		return transport.RoleResponse{}, err
	}

	resp := toRoleResponse(role, nil)
	s.publish(ctx, tenantID, actorID, role.ID, events.ActionCreated, resp)
	return resp, nil
}

func (s *Service) UpdateRole(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateRoleRequest) (transport.RoleResponse, error) {
	role, err := s.repo.GetRole(ctx, tenantID, id)
	if err != nil {
		return transport.RoleResponse{}, mapNotFound(err)
	}
	if role.IsSystemRole {
		return transport.RoleResponse{}, apperr.BadRequest(msgSystemRoleModify)
	}

	params := repository.UpdateRoleParams{Description: sanitize.TextPtr(req.Description)}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		exists, err := s.repo.RoleNameExists(ctx, tenantID, name, &id)
		if err != nil {
			return transport.RoleResponse{}, err
		}
		if exists {
			return transport.RoleResponse{}, apperr.BadRequest(msgRoleNameExists)
		}
		params.Name = &name
	}
	if req.DataScope != nil {
		ds := string(*req.DataScope)
		params.DataScope = &ds
	}

	updated, err := s.repo.UpdateRole(ctx, tenantID, id, params)
	if err != nil {
		return transport.RoleResponse{}, mapNotFound(err)
	}
	resp := toRoleResponse(updated, nil)
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, resp)
	return resp, nil
}

func (s *Service) UpdateRolePermissions(ctx context.Context, tenantID, actorID, id uuid.UUID, req transport.UpdateRolePermissionsRequest) (transport.RoleResponse, error) {
	role, err := s.repo.GetRole(ctx, tenantID, id)
	if err != nil {
		return transport.RoleResponse{}, mapNotFound(err)
	}
	if role.IsSystemRole {
		return transport.RoleResponse{}, apperr.BadRequest(msgSystemRolePerms)
	}

	ids := uniqueIDs(req.PermissionIDs)
	if err := s.checkPermissionIDs(ctx, ids); err != nil {
		return transport.RoleResponse{}, err
	}
	if err := s.repo.ReplaceRolePermissions(ctx, tenantID, id, ids); err != nil {
		return transport.RoleResponse{}, mapNotFound(err)
	}

	resp, err := s.GetRole(ctx, tenantID, id)
	if err != nil {
		return transport.RoleResponse{}, err
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionUpdated, resp)
	return resp, nil
}

func (s *Service) DeleteRole(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, tenantID, id)
	if err != nil {
		return mapNotFound(err)
	}
	if role.IsSystemRole {
		return apperr.BadRequest(msgSystemRoleDelete)
	}
	if role.UserCount > 0 {
		return apperr.BadRequest(msgRoleHasAssignedUser)
	}
	if err := s.repo.SoftDeleteRole(ctx, tenantID, id); err != nil {
		return mapNotFound(err)
	}
	s.publish(ctx, tenantID, actorID, id, events.ActionDeleted, toRoleResponse(role, nil))
	return nil
}

func (s *Service) checkPermissionIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := s.repo.CountPermissions(ctx, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return apperr.BadRequest(msgUnknownPermissions)
	}

	platform := make([]string, 0)
	for _, m := range s.catalog.Modules {
		if m.Platform {
			platform = append(platform, m.Module)
		}
	}
	if len(platform) == 0 {
		return nil
	}
	n, err = s.repo.PlatformPermissionCount(ctx, ids, platform)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.BadRequest("platform permissions cannot be assigned to custom roles")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID, actorID, roleID uuid.UUID, action events.Action, resp transport.RoleResponse) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		EntityType: events.EntityRole,
		EntityID:   roleID,
		Action:     action,
		ActorID:    actorID,
		Data:       events.Snapshot(resp),
	})
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgRoleNotFound)
	}
	return err
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toPermissionResponse(p repository.Permission) transport.PermissionResponse {
	return transport.PermissionResponse{ID: p.ID, Name: p.Name, Code: p.Code, Module: p.Module, Description: p.Description}
}

func toRoleResponse(r repository.Role, perms []repository.Permission) transport.RoleResponse {
	resp := transport.RoleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		IsSystemRole:    r.IsSystemRole,
		DataScope:       scope.DataScope(r.DataScope),
		PermissionCount: r.PermissionCount,
		UserCount:       r.UserCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if perms != nil {
		resp.Permissions = make([]transport.PermissionResponse, len(perms))
		for i, p := range perms {
			resp.Permissions[i] = toPermissionResponse(p)
		}
		resp.PermissionCount = len(perms)
	}
	return resp
}
