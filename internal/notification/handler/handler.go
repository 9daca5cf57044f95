package handler

import (
	"net/http"

	"crm_saas_backend/internal/notification/inapp"
	"crm_saas_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

type listQuery struct {
	UnreadOnly bool `form:"unreadOnly"`
}

type Handler struct {
	svc    *inapp.Service
	stream gin.HandlerFunc
}

func New(svc *inapp.Service, stream gin.HandlerFunc) *Handler {
	return &Handler{svc: svc, stream: stream}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/unread-count", h.UnreadCount)
	rg.POST("/read-all", h.MarkAllRead)
	rg.POST("/:id/read", h.MarkRead)
	rg.DELETE("/:id", h.Delete)
	if h.stream != nil {
		rg.GET("/stream", h.stream)
	}
}

func (h *Handler) List(c *gin.Context) {
	var page httpkit.PageParams
	var q listQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.svc.List(c.Request.Context(), identity.TenantID(), identity.UserID(), q.UnreadOnly, page)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	count, err := h.svc.UnreadCount(c.Request.Context(), identity.TenantID(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if httpkit.HandleError(c, h.svc.MarkRead(c.Request.Context(), identity.TenantID(), identity.UserID(), id)) {
		return
	}
	httpkit.NoContent(c)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	updated, err := h.svc.MarkAllRead(c.Request.Context(), identity.TenantID(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"updated": updated})
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

	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity.TenantID(), identity.UserID(), id)) {
		return
	}
	httpkit.NoContent(c)
}
