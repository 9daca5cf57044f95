package handler

import (
	"net/http"

	"crm_saas_backend/internal/contacts/service"
	"crm_saas_backend/internal/contacts/transport"
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
	rg.GET("", httpkit.RequirePermission("contacts.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("contacts.view"), h.Get)
	rg.GET("/:id/timeline", httpkit.RequirePermission("contacts.view"), h.Timeline)
	rg.GET("/:id/health-score", httpkit.RequirePermission("contacts.view"), h.HealthScore)
	rg.POST("", httpkit.RequirePermission("contacts.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("contacts.update"), h.Update)
	rg.DELETE("/:id", httpkit.RequirePermission("contacts.delete"), h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var req transport.ListContactsRequest
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

	result, err := h.svc.List(c.Request.Context(), identity, page, req)
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
	result, err := h.svc.Get(c.Request.Context(), identity, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Timeline(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	result, err := h.svc.Timeline(c.Request.Context(), identity, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) HealthScore(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	result, err := h.svc.HealthScore(c.Request.Context(), identity, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateContactRequest
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
	var req transport.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	result, err := h.svc.Update(c.Request.Context(), identity, id, req)
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
	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity, id)) {
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
