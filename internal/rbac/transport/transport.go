package transport

import (
	"time"

	"crm_saas_backend/internal/rbac/scope"

	"github.com/google/uuid"
)

type PermissionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Module      string    `json:"module"`
	Description *string   `json:"description,omitempty"`
}

type PermissionModuleResponse struct {
	Module      string               `json:"module"`
	Permissions []PermissionResponse `json:"permissions"`
}

type RoleResponse struct {
	ID              uuid.UUID            `json:"id"`
	Name            string               `json:"name"`
	Description     *string              `json:"description,omitempty"`
	IsSystemRole    bool                 `json:"isSystemRole"`
	DataScope       scope.DataScope      `json:"dataScope"`
	PermissionCount int                  `json:"permissionCount"`
	UserCount       int                  `json:"userCount"`
	Permissions     []PermissionResponse `json:"permissions,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       *time.Time           `json:"updatedAt,omitempty"`
}

type CreateRoleRequest struct {
	Name          string          `json:"name" validate:"required,min=2,max=100"`
	Description   *string         `json:"description" validate:"omitempty,max=500"`
	DataScope     scope.DataScope `json:"dataScope" validate:"required,oneof=AllInOrganization Department TeamOnly OnlyOwn"`
	PermissionIDs []uuid.UUID     `json:"permissionIds" validate:"omitempty,dive,required"`
}

type UpdateRoleRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=2,max=100"`
	Description *string          `json:"description" validate:"omitempty,max=500"`
	DataScope   *scope.DataScope `json:"dataScope" validate:"omitempty,oneof=AllInOrganization Department TeamOnly OnlyOwn"`
}

type UpdateRolePermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permissionIds" validate:"required,dive,required"`
}
