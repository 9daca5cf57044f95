package handler

import (
	"net/http"

	"crm_saas_backend/internal/audit/service"
	"crm_saas_backend/internal/audit/transport"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", httpkit.RequirePermission("audit.view"), h.List)
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var req transport.ListAuditLogsRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", validator.Details(err))
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
