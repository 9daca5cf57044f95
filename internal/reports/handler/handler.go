package handler

import (
	"context"
	"net/http"

	"crm_saas_backend/internal/reports/service"
	"crm_saas_backend/internal/reports/transport"
	"crm_saas_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Use(httpkit.RequirePermission("reports.view"))
	rg.GET("/sales-pipeline", serve(h, h.svc.SalesPipeline))
	rg.GET("/lead-conversion", serve(h, h.svc.LeadConversion))
	rg.GET("/ticket-analytics", serve(h, h.svc.TicketAnalytics))
	rg.GET("/user-activity", serve(h, h.svc.UserActivity))
	rg.GET("/dashboard", serve(h, h.svc.Dashboard))
}

func serve[T any](h *Handler, fn func(context.Context, uuid.UUID, service.Range) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transport.RangeRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		identity := httpkit.MustGetIdentity(c)
		if identity == nil {
			return
		}
		r, err := h.svc.Resolve(req)
		if httpkit.HandleError(c, err) {
			return
		}
		result, err := fn(c.Request.Context(), identity.TenantID(), r)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.OK(c, result)
	}
}
