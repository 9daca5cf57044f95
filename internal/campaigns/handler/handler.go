package handler

import (
	"net/http"

	"crm_saas_backend/internal/campaigns/service"
	"crm_saas_backend/internal/campaigns/transport"
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

type stateChange func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error)

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", httpkit.RequirePermission("campaigns.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("campaigns.view"), h.Get)
	rg.GET("/:id/performance", httpkit.RequirePermission("campaigns.view"), h.Performance)
	rg.POST("", httpkit.RequirePermission("campaigns.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("campaigns.update"), h.Update)
	rg.DELETE("/:id", httpkit.RequirePermission("campaigns.delete"), h.Delete)
	rg.PUT("/:id/metrics", httpkit.RequirePermission("campaigns.update"), h.UpdateMetrics)
	rg.POST("/:id/send", httpkit.RequirePermission("campaigns.send"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
		return h.svc.Send(c.Request.Context(), tenantID, actorID, id)
	}))
	rg.POST("/:id/pause", httpkit.RequirePermission("campaigns.update"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
		return h.svc.Pause(c.Request.Context(), tenantID, actorID, id)
	}))
	rg.POST("/:id/resume", httpkit.RequirePermission("campaigns.update"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
		return h.svc.Resume(c.Request.Context(), tenantID, actorID, id)
	}))
	rg.POST("/:id/cancel", httpkit.RequirePermission("campaigns.update"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.CampaignResponse, error) {
		return h.svc.Cancel(c.Request.Context(), tenantID, actorID, id)
	}))
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var req transport.ListCampaignsRequest
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
	result, err := h.svc.Get(c.Request.Context(), identity.TenantID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Performance(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	result, err := h.svc.Performance(c.Request.Context(), identity.TenantID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateCampaignRequest
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
	var req transport.UpdateCampaignRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.Update(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) UpdateMetrics(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	var req transport.UpdateMetricsRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.UpdateMetrics(c.Request.Context(), identity.TenantID(), identity.UserID(), id, req)
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

func (h *Handler) change(fn stateChange) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, identity, ok := pathIdentity(c)
		if !ok {
			return
		}
		result, err := fn(c, identity.TenantID(), identity.UserID(), id)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.OK(c, result)
	}
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
