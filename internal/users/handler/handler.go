package handler

import (
	"net/http"

	"crm_saas_backend/internal/users/service"
	"crm_saas_backend/internal/users/transport"
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
	rg.GET("", httpkit.RequirePermission("users.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("users.view"), h.Get)
	rg.POST("", httpkit.RequirePermission("users.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("users.update"), h.Update)
	rg.PUT("/:id/roles", httpkit.RequirePermission("users.update"), h.SetRoles)
	rg.POST("/:id/activate", httpkit.RequirePermission("users.update"), h.Activate)
	rg.POST("/:id/deactivate", httpkit.RequirePermission("users.update"), h.Deactivate)
	rg.DELETE("/:id", httpkit.RequirePermission("users.delete"), h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var req transport.ListUsersRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
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

	result, err := h.svc.List(c.Request.Context(), identity.TenantID(), page, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	user, err := h.svc.Get(c.Request.Context(), identity.TenantID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, user)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateUserRequest
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

	user, err := h.svc.Create(c.Request.Context(), identity.TenantID(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, user)
}

func (h *Handler) Update(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	var req transport.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	user, err := h.svc.Update(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, user)
}

func (h *Handler) SetRoles(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	var req transport.SetRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	user, err := h.svc.SetRoles(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req.RoleIDs)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, user)
}

func (h *Handler) Activate(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	user, err := h.svc.Activate(c.Request.Context(), identity.TenantID(), identity.UserID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, user)
}

func (h *Handler) Deactivate(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	user, err := h.svc.Deactivate(c.Request.Context(), identity.TenantID(), identity.UserID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, user)
}

func (h *Handler) Delete(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity.TenantID(), identity.UserID(), id)) {
		return
	}
	httpkit.NoContent(c)
}

func pathIdentity(c *gin.Context) (uuid.UUID, httpkit.Identity, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, nil, false
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.Nil, nil, false
	}
	return id, identity, true
}
