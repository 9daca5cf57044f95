package handler

import (
	"net/http"

	"crm_saas_backend/internal/rbac/service"
	"crm_saas_backend/internal/rbac/transport"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", httpkit.RequirePermission("roles.view"), h.List)
	rg.GET("/permissions", httpkit.RequirePermission("roles.view"), h.ListPermissions)
	rg.GET("/:id", httpkit.RequirePermission("roles.view"), h.Get)
	rg.POST("", httpkit.RequirePermission("roles.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("roles.update"), h.Update)
	rg.PUT("/:id/permissions", httpkit.RequirePermission("roles.update"), h.UpdatePermissions)
	rg.DELETE("/:id", httpkit.RequirePermission("roles.delete"), h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	roles, err := h.svc.ListRoles(c.Request.Context(), identity.TenantID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, roles)
}

func (h *Handler) ListPermissions(c *gin.Context) {
	modules, err := h.svc.ListPermissionModules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, modules)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	role, err := h.svc.GetRole(c.Request.Context(), identity.TenantID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, role)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	role, err := h.svc.CreateRole(c.Request.Context(), identity.TenantID(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, role)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req transport.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	role, err := h.svc.UpdateRole(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, role)
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req transport.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	role, err := h.svc.UpdateRolePermissions(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, role)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	if httpkit.HandleError(c, h.svc.DeleteRole(c.Request.Context(), identity.TenantID(), identity.UserID(), id)) {
		return
	}
	httpkit.NoContent(c)
}
