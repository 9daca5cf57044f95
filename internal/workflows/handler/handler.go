package handler

import (
	"net/http"

	"crm_saas_backend/internal/workflows/service"
	"crm_saas_backend/internal/workflows/transport"
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

type stateChange func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.WorkflowResponse, error)

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", httpkit.RequirePermission("workflows.view"), h.List)
	rg.GET("/:id", httpkit.RequirePermission("workflows.view"), h.Get)
	rg.GET("/:id/executions", httpkit.RequirePermission("workflows.view"), h.Executions)
	rg.POST("", httpkit.RequirePermission("workflows.create"), h.Create)
	rg.PUT("/:id", httpkit.RequirePermission("workflows.update"), h.Update)
	rg.DELETE("/:id", httpkit.RequirePermission("workflows.delete"), h.Delete)
	rg.POST("/:id/activate", httpkit.RequirePermission("workflows.update"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.WorkflowResponse, error) {
		return h.svc.Activate(c.Request.Context(), tenantID, actorID, id)
	}))
	rg.POST("/:id/deactivate", httpkit.RequirePermission("workflows.update"), h.change(func(c *gin.Context, tenantID, actorID, id uuid.UUID) (transport.WorkflowResponse, error) {
		return h.svc.Deactivate(c.Request.Context(), tenantID, actorID, id)
	}))
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var req transport.ListWorkflowsRequest
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

func (h *Handler) Executions(c *gin.Context) {
	id, identity, ok := pathIdentity(c)
	if !ok {
		return
	}
	var page httpkit.PageParams
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	result, err := h.svc.Executions(c.Request.Context(), identity.TenantID(), id, page)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateWorkflowRequest
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
	var req transport.UpdateWorkflowRequest
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
