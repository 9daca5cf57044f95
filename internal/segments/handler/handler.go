package handler

import (
	"net/http"

	"crm_saas_backend/internal/segments/service"
	"crm_saas_backend/internal/segments/transport"
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
	rg.GET("", httpkit.RequirePermission("segments.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("segments.view"), h.Get)
	rg.GET("/:id/contacts", httpkit.RequirePermission("segments.view"), h.Contacts)
	rg.POST("", httpkit.RequirePermission("segments.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("segments.update"), h.Update)
	rg.DELETE("/:id", httpkit.RequirePermission("segments.delete"), h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.List(c.Request.Context(), identity.TenantID(), page)
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
	result, err := h.svc.Get(c.Request.Context(), identity.TenantID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Contacts(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	page, ok := h.page(c)
	if !ok {
		return
	}
	result, err := h.svc.Contacts(c.Request.Context(), identity.TenantID(), id, page)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateSegmentRequest
	if !h.bind(c, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Create(c.Request.Context(), identity.TenantID(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

func (h *Handler) Update(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	var req transport.UpdateSegmentRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.Update(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
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

func (h *Handler) page(c *gin.Context) (httpkit.PageParams, bool) {
	var page httpkit.PageParams
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return page, false
	}
	if err := h.val.Struct(page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return page, false
	}
	return page, true
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return false
	}
	return true
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
