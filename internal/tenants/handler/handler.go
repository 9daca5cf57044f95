package handler

import (
	"net/http"

	"crm_saas_backend/internal/tenants/service"
	"crm_saas_backend/internal/tenants/transport"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// CacheInvalidator is notified when a tenant's status or subdomain may have changed.
type CacheInvalidator interface {
	Invalidate()
}

type Handler struct {
	svc   *service.Service
	cache CacheInvalidator
	val   *validator.Validator
}

func New(svc *service.Service, cache CacheInvalidator, val *validator.Validator) *Handler {
	return &Handler{svc: svc, cache: cache, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", httpkit.RequirePermission("tenants.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("tenants.view"), h.Get)
	rg.POST("", httpkit.RequirePermission("tenants.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("tenants.update"), h.Update)
	rg.DELETE("/:id", httpkit.RequirePermission("tenants.delete"), h.Delete)
}

func (h *Handler) Register(c *gin.Context) {
	var req transport.RegisterTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	resp, err := h.svc.Register(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, resp)
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	result, err := h.svc.List(c.Request.Context(), page)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	tenant, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, tenant)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateTenantRequest
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

	tenant, err := h.svc.Create(c.Request.Context(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, tenant)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req transport.UpdateTenantRequest
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

	tenant, err := h.svc.Update(c.Request.Context(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	h.cache.Invalidate()
	httpkit.OK(c, tenant)
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

	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity.UserID(), id)) {
		return
	}
	h.cache.Invalidate()
	httpkit.NoContent(c)
}
